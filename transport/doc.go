// Package transport holds messaging.Transport implementations for external brokers.
//
// Redis publishes the JSON envelope on a channel derived from the topic. PubSub publishes the payload to a
// Google Cloud Pub/Sub topic with the headers as attributes. Discard accepts and drops everything.
package transport
