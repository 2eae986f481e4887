// Command lnclient calls lnd over gRPC, from the command line.
//
// Unary methods are invoked via "call", streaming methods via "subscribe",
// and "methods" lists everything the configured service exposes. Requests
// are JSON, using the proto field names.
//
//	lnclient --macaroonpath ~/.lnd/data/chain/bitcoin/mainnet/admin.macaroon call getInfo
//	lnclient subscribe subscribeInvoices '{"add_index": "10"}'
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCommand(os.Stdout, os.Stderr).ExecuteContext(ctx)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
