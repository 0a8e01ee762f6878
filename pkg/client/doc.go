// Package client is a multiplexed streaming-channel client.
//
// One Client owns one connection to the server. Any number of subscribers
// share that connection; each subscription names a channel and announces
// itself with a listen request. Messages pushed for a channel are fanned out
// to every live subscriber on it.
//
// Basic usage:
//
//	c, err := client.New(client.Config{URL: "wss://push.example.com/stream"})
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	life := registry.NewLifetime()
//	defer life.End()
//
//	sub, err := client.Subscribe(c, life, channel, func(p Price) {
//	    fmt.Println(p.Symbol, p.Value)
//	})
//	if err != nil {
//	    return err
//	}
//	defer sub.Cancel()
//
// Subscribing starts the connection if needed. The client reconnects after
// every loss and replays the listen request of each live subscription.
//
// A subscription ends when it is cancelled or when its owner reports it is no
// longer alive. Observe ties a subscription to an object through a weak
// reference, so the subscription ends once the object is garbage collected.
package client
