// The prjfsd program runs the projection-filesystem hook core as a
// standalone dæmon against an in-memory volume. The real kernel host
// binding lives outside this module; running against ramvfs gives a
// development and soak-test target, the same role the emulated object
// store plays for a storage dæmon.
package main

import (
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/willfordkc/GVFS/prjfsd"
	"github.com/willfordkc/GVFS/ramvfs"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatalf("no conf file specified")
	}

	errChan := make(chan error, 1) // Must be buffered to avoid race
	var wg sync.WaitGroup

	volume := ramvfs.NewVolume()

	// empty signal list (final argument) means "catch all signals"
	go prjfsd.Daemon(os.Args[1], volume, errChan, &wg)

	err := <-errChan
	if nil == err {
		// up; wait for the signal-driven shutdown to finish
		err = <-errChan
	}

	wg.Wait()

	if nil != err {
		fmt.Fprintf(os.Stderr, "prjfsd: Daemon() returned error: %v\n", err) // logger may not be up
		os.Exit(1)
	}
}
