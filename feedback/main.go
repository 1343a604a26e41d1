// Poll the feedback service for devices that no longer accept notifications.
//
//	./feedback [-params]
//	  -config file
//	        JSON configuration (default: APNS_* environment and .env)
//	  -redis url
//	        suppress the reported tokens in Redis
//	  -sqlite file
//	        store the reported tokens in a SQLite database
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/kr/pretty"
	apns "github.com/mdigger/pushgate"
	"github.com/mdigger/pushgate/internal/logger"
	"github.com/mdigger/pushgate/store"
)

func main() {
	configFileName := flag.String("config", "", "JSON configuration `file`")
	redisURL := flag.String("redis", "", "Redis `url` of suppressed tokens")
	sqliteFile := flag.String("sqlite", "", "SQLite database `file`")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Poll Apple Push feedback service\n")
		fmt.Fprintf(os.Stderr, "%s [-params]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(0)

	var (
		config *apns.Config
		err    error
	)
	if *configFileName != "" {
		config, err = apns.LoadConfig(*configFileName)
	} else {
		config, err = apns.ConfigFromEnv()
	}
	if err != nil {
		log.Fatalln("Error loading configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	channel, err := config.FeedbackChannel(apns.WithLogger(logger.New(config.LogLevel)))
	if err != nil {
		log.Fatalln("Error:", err)
	}
	var sinks fanout
	if *redisURL != "" {
		r, err := store.NewRedisURL(ctx, *redisURL, 0)
		if err != nil {
			log.Fatalln("Error connecting to Redis:", err)
		}
		defer r.Close()
		sinks = append(sinks, r)
	}
	if *sqliteFile != "" {
		s, err := store.NewSQLite(*sqliteFile)
		if err != nil {
			log.Fatalln("Error opening SQLite:", err)
		}
		defer s.Close()
		sinks = append(sinks, s)
	}
	n, err := channel.Drain(ctx, sinks)
	if err != nil {
		log.Println("Error:", err)
		return
	}
	log.Println("Received:", n)
}

// fanout prints the records and saves them to every store.
type fanout []apns.FeedbackSink

func (f fanout) Save(ctx context.Context, records []apns.FeedbackRecord) error {
	pretty.Println(records)
	var errs []error
	for _, sink := range f {
		errs = append(errs, sink.Save(ctx, records))
	}
	return errors.Join(errs...)
}
