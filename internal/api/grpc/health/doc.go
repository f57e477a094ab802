// Package health implements the gRPC health endpoint of the station.
//
// The Reporter is a progress sink: the station service is SERVING while
// idle and NOT_SERVING while a flash run owns the devices, so external
// tooling can wait for a run to finish. Probe is the matching client.
package health
