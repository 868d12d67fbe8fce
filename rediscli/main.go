// The MIT License (MIT)
//
// Copyright (c) 2020 JOT85
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/JOT85/redis-go/redis"
)

// VERSION is injected by buildflags
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// add more log flags for debugging
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "rediscli"
	myApp.Usage = "execute commands against a Redis node over one multiplexed connection"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "addr,a",
			Value: "127.0.0.1:6379",
			Usage: "node address, host:port or an absolute unix socket path",
		},
		cli.StringFlag{
			Name:   "password,p",
			Value:  "",
			Usage:  "AUTH password for the connection handshake",
			EnvVar: "REDISCLI_PASSWORD",
		},
		cli.Int64Flag{
			Name:  "db",
			Value: 0,
			Usage: "database to SELECT on connect",
		},
		cli.IntFlag{
			Name:  "timeout",
			Value: 0,
			Usage: "per-command timeout in milliseconds, 0 to disable",
		},
		cli.IntFlag{
			Name:  "dialtimeout",
			Value: 1000,
			Usage: "connection establishment timeout in milliseconds",
		},
		cli.IntFlag{
			Name:  "repeat,n",
			Value: 1,
			Usage: "execute the command this many times",
		},
		cli.IntFlag{
			Name:  "workers,w",
			Value: 1,
			Usage: "number of concurrent submitters sharing the connection",
		},
		cli.BoolFlag{
			Name:  "atomic",
			Usage: "wrap the command in MULTI/EXEC",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress per-reply output",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when the value is not empty, the config path must exists
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := Config{}
		config.Addr = c.String("addr")
		config.Password = c.String("password")
		config.DB = c.Int64("db")
		config.Timeout = c.Int("timeout")
		config.DialTimeout = c.Int("dialtimeout")
		config.Repeat = c.Int("repeat")
		config.Workers = c.Int("workers")
		config.Atomic = c.Bool("atomic")
		config.Log = c.String("log")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			err := parseJSONConfig(&config, c.String("c"))
			checkError(err)
		}

		// log redirect
		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		args := c.Args()
		if len(args) == 0 {
			color.Red("no command given, e.g.: rediscli -a 127.0.0.1:6379 PING")
			os.Exit(-1)
		}
		if config.Repeat < 1 {
			config.Repeat = 1
		}
		if config.Workers < 1 {
			config.Workers = 1
		}
		if config.Workers > config.Repeat {
			color.Red("WARNING: more workers (%d) than repetitions (%d), capping workers", config.Workers, config.Repeat)
			config.Workers = config.Repeat
		}

		log.Println("version:", VERSION)
		log.Println("address:", config.Addr)
		log.Println("db:", config.DB)
		log.Println("auth:", config.Password != "")
		log.Println("repeat:", config.Repeat)
		log.Println("workers:", config.Workers)
		log.Println("atomic:", config.Atomic)

		info := &redis.ConnInfo{
			Addr:        config.Addr,
			Password:    config.Password,
			DB:          config.DB,
			DialTimeout: time.Duration(config.DialTimeout) * time.Millisecond,
		}

		manager, err := redis.NewConnManager(context.Background(), info)
		checkError(err)
		defer manager.Close()

		run := func() error {
			ctx := context.Background()
			if config.Timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(config.Timeout)*time.Millisecond)
				defer cancel()
			}

			reply, err := execute(ctx, manager, args, config.Atomic)
			if err != nil {
				return err
			}
			if !config.Quiet {
				fmt.Println(reply)
			}
			return nil
		}

		start := time.Now()
		var wg sync.WaitGroup
		errs := make(chan error, config.Workers)
		perWorker := config.Repeat / config.Workers
		extra := config.Repeat % config.Workers
		for w := 0; w < config.Workers; w++ {
			n := perWorker
			if w < extra {
				n++
			}
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				for i := 0; i < n; i++ {
					if err := run(); err != nil {
						errs <- err
						return
					}
				}
			}(n)
		}
		wg.Wait()

		select {
		case err := <-errs:
			checkError(err)
		default:
		}

		if config.Repeat > 1 {
			elapsed := time.Since(start)
			log.Printf("%d commands in %v (%.0f ops/sec)",
				config.Repeat, elapsed, float64(config.Repeat)/elapsed.Seconds())
		}
		return nil
	}
	myApp.Run(os.Args)
}

// execute runs one command built from args. With atomic set the command
// goes through a MULTI/EXEC pipeline instead.
func execute(ctx context.Context, c redis.Commander, args []string, atomic bool) (string, error) {
	cmd := redis.NewCmd(args[0])
	for _, arg := range args[1:] {
		cmd.Arg(arg)
	}

	if atomic {
		frames, err := redis.NewPipeline().Add(cmd).Atomic().Query(ctx, c)
		if err != nil {
			return "", err
		}
		return frames[0].String(), nil
	}

	reply, err := c.Exec(ctx, cmd)
	if err != nil {
		return "", err
	}
	return reply.String(), nil
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
