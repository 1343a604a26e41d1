// Send Apple Push notification
//
//	./push [-params] <token> [<token2> [...]]
//	  -config file
//	        JSON configuration (default: APNS_* environment and .env)
//	  -mode mode
//	        http2 or legacy (default "http2")
//	  -policy policy
//	        sequential, synchronous or fire (default "fire")
//	  -topic topic
//	        application bundle ID (default from configuration)
//	  -f file
//	        JSON file with push message
//	  -a text
//	        message text (default "Hello!")
//	  -b badge
//	        badge number
//	  -redis url
//	        skip and record unregistered tokens in Redis
//
//	Sample JSON file:
//	  {
//	    "aps": {
//	      "alert": "message",
//	      "badge": 0
//	    }
//	  }
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	apns "github.com/mdigger/pushgate"
	"github.com/mdigger/pushgate/internal/logger"
	"github.com/mdigger/pushgate/store"
	"github.com/ttacon/chalk"
)

func main() {
	configFileName := flag.String("config", "", "JSON configuration `file`")
	mode := flag.String("mode", "http2", "`mode`: http2 or legacy")
	policyName := flag.String("policy", "fire", "delivery `policy`: sequential, synchronous or fire")
	topic := flag.String("topic", "", "application bundle ID `topic`")
	notificationFileName := flag.String("f", "", "JSON `file` with push message")
	alert := flag.String("a", "Hello!", "message `text`")
	badge := flag.Uint("b", 0, "`badge` number")
	redisURL := flag.String("redis", "", "Redis `url` of suppressed tokens")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, "Send Apple Push notification\n")
		fmt.Fprintf(os.Stderr, "%s [-params] <token> [<token2> [...]]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	log.SetFlags(0)

	if flag.NArg() < 1 {
		log.Fatalln("Error: no tokens")
	}
	config, err := loadConfig(*configFileName)
	if err != nil {
		log.Fatalln("Error loading configuration:", err)
	}
	if *topic == "" {
		*topic = config.Topic
	}
	payload, err := loadPayload(*notificationFileName, *alert, *badge)
	if err != nil {
		log.Fatalln("Error:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	tokens := flag.Args()
	var suppressed *store.Redis
	if *redisURL != "" {
		if suppressed, err = store.NewRedisURL(ctx, *redisURL, 0); err != nil {
			log.Fatalln("Error connecting to Redis:", err)
		}
		defer suppressed.Close()
		if tokens, err = store.Filter(ctx, suppressed, tokens); err != nil {
			log.Fatalln("Error filtering tokens:", err)
		}
	}

	notifications := make([]apns.Notification, 0, len(tokens))
	for _, token := range tokens {
		n, err := apns.NewNotification(token, payload,
			apns.WithExpiration(time.Now().Add(24*time.Hour)))
		if err != nil {
			log.Println(chalk.Red.Color("Skipped:"), token, err)
			continue
		}
		notifications = append(notifications, n)
	}
	if len(notifications) == 0 {
		log.Fatalln("Nothing to send")
	}

	opts := []apns.Option{apns.WithLogger(logger.New(config.LogLevel))}
	switch *mode {
	case "legacy":
		pushLegacy(ctx, config, notifications, opts)
	case "http2":
		policy, err := parsePolicy(*policyName)
		if err != nil {
			log.Fatalln("Error:", err)
		}
		pushHTTP2(ctx, config, notifications, *topic, policy, suppressed, opts)
	default:
		log.Fatalf("Error: unknown mode %q", *mode)
	}
	log.Println("Complete!")
}

func loadConfig(filename string) (*apns.Config, error) {
	if filename != "" {
		return apns.LoadConfig(filename)
	}
	return apns.ConfigFromEnv()
}

func loadPayload(filename, alert string, badge uint) (any, error) {
	if filename != "" {
		data, err := os.ReadFile(filename)
		if err != nil {
			return nil, fmt.Errorf("loading push file: %w", err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("push file %s is not valid JSON", filename)
		}
		return json.RawMessage(data), nil
	}
	if alert == "" {
		return nil, fmt.Errorf("nothing to send")
	}
	return map[string]any{
		"aps": map[string]any{
			"alert": alert,
			"badge": badge,
		},
	}, nil
}

func parsePolicy(name string) (apns.DeliveryPolicy, error) {
	switch name {
	case "sequential":
		return apns.Sequential, nil
	case "synchronous":
		return apns.Synchronous, nil
	case "fire":
		return apns.FireThenJoin, nil
	}
	return 0, fmt.Errorf("unknown delivery policy %q", name)
}

func pushLegacy(ctx context.Context, config *apns.Config, notifications []apns.Notification, opts []apns.Option) {
	channel, err := config.LegacyChannel(opts...)
	if err != nil {
		log.Fatalln("Error:", err)
	}
	defer channel.Close()
	result, err := channel.Send(ctx, notifications...)
	if err != nil {
		log.Fatalln(chalk.Red.Color("Error:"), err)
	}
	if result.Dropped {
		log.Println(chalk.Red.Color("Dropped:"), len(notifications)-result.Written,
			"after", result.Attempts, "attempts:", result.Err)
	}
	log.Println(chalk.Green.Color("Written:"), result.Written)
}

func pushHTTP2(ctx context.Context, config *apns.Config, notifications []apns.Notification,
	topic string, policy apns.DeliveryPolicy, suppressed *store.Redis, opts []apns.Option) {
	channel, err := config.HTTP2Channel(opts...)
	if err != nil {
		log.Fatalln("Error:", err)
	}
	defer channel.Close()
	rejected, err := channel.SendMany(ctx, notifications, topic, policy)
	for _, n := range notifications {
		body, ok := rejected[n.Token()]
		if !ok {
			continue
		}
		response := apns.ParseError(0, body)
		log.Println(chalk.Red.Color("Rejected:"), n.Token(), body)
		if suppressed != nil && response != nil && response.Reason == "Unregistered" {
			if err := suppressed.Suppress(ctx, n.Token()); err != nil {
				log.Println("Error suppressing token:", err)
			}
		}
	}
	stats := channel.Stats()
	log.Println(chalk.Green.Color("Sent:"), stats.Sent, chalk.Red.Color("Failed:"), stats.Failed)
	if err != nil {
		log.Fatalln(chalk.Red.Color("Error:"), err)
	}
}
