// main is the entry point for the offlinecache CLI.
package main

import (
	"github.com/nutrifyke/offlinecache/cmd"
	"github.com/nutrifyke/offlinecache/internal/contract"
	"github.com/nutrifyke/offlinecache/internal/iocache"
)

// main wires the global cache manager into the command tree and runs it.
// Storage is closed before any fatal exit.
func main() {
	cmd.SetCacheManager(iocache.Manager)
	err := cmd.Execute()
	iocache.CloseCaching()
	if err != nil {
		contract.LogFatal("offlinecache failed", err)
	}
}
