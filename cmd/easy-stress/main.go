package main

import (
	"github.com/rustyrazorblade/cassandra-easy-stress/cmd/easy-stress/cmd"
)

func main() {
	cmd.Execute()
}
