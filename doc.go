/*
Package parley is a conversational flow engine for messaging channels such as WhatsApp.

It runs one "turn" per inbound message: the first message of a contact selects a flow by
trigger phrase, and later messages move the contact through menus, prompts, forms and
condition branches until a final node or an action ends the conversation.

# Concept

Parley treats each conversation as a session pinned to a node of a flow graph. The engine
owns the dialog state, timeouts and side-effect ordering, while your application ("Host")
owns delivery. Every turn returns the messages to send as outbound intents, so Parley can be
embedded behind an HTTP webhook, a Twilio number or a terminal chat.

# Key Features

  - Per-session serialization: turns and timer expiries of one contact never interleave.
  - Race-free timeouts: an expiry that lost the race against a newer message is discarded.
  - Pluggable storage: flows from YAML, Loam, SQLite or Postgres; sessions in memory, files or Redis.
  - Lifecycle hooks for logging and Prometheus metrics.

# Usage

	package main

	import (
		"context"
		"fmt"
		"log"

		"github.com/aretw0/parley"
		"github.com/aretw0/parley/pkg/domain"
	)

	func main() {
		// Serve the flows found in ./flows, keeping sessions in memory.
		eng, err := parley.Open("./flows")
		if err != nil {
			log.Fatal(err)
		}
		defer eng.Close()

		reply, err := eng.HandleInboundMessage(context.Background(), domain.InboundMessage{
			ContactID:    "5511999990000",
			ConnectionID: "wa",
			Text:         "hi",
		})
		if err != nil {
			log.Fatal(err)
		}
		for _, intent := range reply.Intents {
			fmt.Println(intent.Text)
		}
	}
*/
package parley
