/*
Package configuration defines the input configuration for an easy-stress run.

A run drives a key/value workload against a single store from a number of worker threads.
Each thread keeps a bounded number of operations in flight; when Rate is set, dispatch is
throttled by a shared rate limiter whose rate is retuned by the optimizer to keep latency
under Optimizer.MaxLatency.

# Example YAML Configuration

	threads: 4
	concurrency: 50
	rate: 1000
	duration: 10m
	warmup: 1m
	populate: 10000
	readRate: 20%
	deleteRate: 1%
	partitions: 100000
	paginate: true
	pageSize: 100
	optimizer:
	  maxLatency: 50ms
	  stepMaxLatency: 100ms
	  interval: 5s
	  stepPhaseTicks: 12
	store:
	  type: redis
	  table: keyvalue
	  redis:
	    addr: localhost:6379

Every field can be overridden from the environment with the EASYSTRESS_ prefix, for example
EASYSTRESS_STORE_TYPE=postgres.
*/
package configuration
