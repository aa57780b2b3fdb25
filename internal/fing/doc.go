// Package fing talks to a Fing Agent's local HTTP API and turns its
// responses into canonical device and agent records.
//
// The package has three layers:
//
//   - AgentClient performs the raw HTTP calls (GET /1/devices, GET /1/agent/info)
//     and returns response bodies.
//   - API wraps an upstream client with lazy construction, a per-attempt
//     timeout and a RetryPolicy. Every call runs in a worker goroutine whose
//     context is cancelled when the attempt times out, so a hung request never
//     outlives its caller.
//   - DecodeDevices and DecodeAgent classify the payload shape once
//     (list, mapping or unknown) and normalise it into Device and Agent values.
//     Nothing downstream inspects raw shapes again.
//
// # Retry policy
//
// The default policy makes up to 3 attempts with a 30s timeout each and
// sleeps 1s then 2s between them. Errors mentioning "401" or "unauthorized"
// are fatal and returned immediately. Timeouts and network errors are
// retried, and so is anything unrecognised.
//
// # Usage
//
//	api := fing.NewAPI(fing.ClientConfig{Host: "192.168.1.2", Port: 49090, APIKey: key})
//	devices, err := api.FetchDevices(ctx)
//	if err != nil {
//	    return err
//	}
//	for _, d := range devices.Devices {
//	    fmt.Println(d.MAC, d.Name())
//	}
package fing
