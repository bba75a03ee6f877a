package main

import (
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.vocdoni.io/dvote/log"

	"github.com/commonsfund/donations-backend/api"
	"github.com/commonsfund/donations-backend/db"
	"github.com/commonsfund/donations-backend/stripe"
)

func main() {
	log.Init("debug", "stdout", nil)
	// define flags
	flag.StringP("host", "h", "0.0.0.0", "listen address")
	flag.IntP("port", "p", 8080, "listen port")
	flag.String("mongo-url", "", "MongoDB URL for the processed-event index (optional, in-memory when empty)")
	flag.String("mongo-db", "donations", "The name of the MongoDB database")
	// parse flags
	flag.Parse()
	// initialize Viper
	viper.SetEnvPrefix("DONATIONS")
	if err := viper.BindPFlags(flag.CommandLine); err != nil {
		panic(err)
	}
	viper.AutomaticEnv()
	// read the configuration
	host := viper.GetString("host")
	port := viper.GetInt("port")
	mongoURL := viper.GetString("mongo-url")
	mongoDB := viper.GetString("mongo-db")
	// the Stripe secrets come from the environment only
	stripeConfig, err := stripe.NewConfig()
	if err != nil {
		log.Fatalf("invalid stripe configuration: %v", err)
	}
	// pick the processed-event index: MongoDB when configured, otherwise a
	// process-local store that only protects a single replica
	var eventStore stripe.EventStore
	if mongoURL != "" {
		eventIndex, err := db.NewEventIndex(mongoURL, mongoDB, 0)
		if err != nil {
			log.Fatalf("could not create the MongoDB event index: %v", err)
		}
		defer eventIndex.Close()
		eventStore = eventIndex
	} else {
		log.Warnf("no mongo-url configured, webhook de-duplication is in-memory only")
		eventStore = stripe.NewMemoryEventStore(0)
	}
	// create the donation billing service
	service, err := stripe.NewService(stripeConfig, stripe.NewClient(stripeConfig), eventStore)
	if err != nil {
		log.Fatalf("could not create the donation service: %v", err)
	}
	// create the local API server
	api.New(&api.Config{
		Host:      host,
		Port:      port,
		Donations: service,
	}).Start()
	// wait forever, as the server is running in a goroutine
	log.Infow("server started", "host", host, "port", port)
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
