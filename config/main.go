// Create a configuration file from the certificate and private key files.
//
// If the topic is not specified, the bundle ID is taken from the certificate.
// Always check that the topic in the created file is correct.
//
// The private key file must not be encrypted: the created configuration holds
// the certificate and the key as one PEM bundle.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	apns "github.com/mdigger/pushgate"
)

func main() {
	certFile := flag.String("cert", "cert.pem", "certificate file name")
	keyFile := flag.String("key", "key.pem", "private key file name")
	sandbox := flag.Bool("sandbox", true, "sandbox mode")
	topic := flag.String("topic", "", "bundle id (if empty trying to find in certificate)")
	outputFile := flag.String("output", "config.json", "output filename")
	flag.Parse()

	config, err := apns.CreateConfig(*topic, *certFile, *keyFile, *sandbox)
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	if config.Topic == "" {
		fmt.Println("Warning: no topic found in the certificate")
	}
	data, err := json.MarshalIndent(config, "", "\t")
	if err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*outputFile, data, 0600); err != nil {
		fmt.Println("Error:", err)
		os.Exit(1)
	}
	fmt.Println("Created:", *outputFile)
}
