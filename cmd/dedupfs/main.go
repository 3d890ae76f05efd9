// Command dedupfs mounts a loopback filesystem that routes every
// write-intent file close through the dedup index, grounded on
// filesystem/main.go's flag/mount/shutdown flow.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"

	"github.com/hanwen/go-fuse/v2/fs"

	"dedupindex"
	"dedupindex/config"
)

func main() {
	log.Println("Starting dedupfs")
	log.SetFlags(log.Lmicroseconds)

	debug := flag.Bool("debug", false, "enter debug mode")
	cfg := config.Default()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if flag.NArg() < 2 {
		fmt.Printf("usage: %s [flags] <mountpoint> <underlying filesystem>\n", path.Base(os.Args[0]))
		fmt.Println("\noptions:")
		flag.PrintDefaults()
		os.Exit(2)
	}

	under, err := filepath.Abs(flag.Arg(1))
	if err != nil {
		log.Fatalf("couldn't get absolute path for underlying filesystem: %v", err)
	}

	idx, err := dedupindex.Open(cfg)
	if err != nil {
		log.Fatalf("opening dedup index %s failed: %v", cfg.TablePath, err)
	}
	defer func() {
		if err := idx.Close(); err != nil {
			log.Printf("closing dedup index: %v", err)
		}
	}()

	root := &dedupfsRoot{Path: under, Index: idx, BlockSize: cfg.BlockSize}
	rootNode := &dedupfsNode{root: root}

	options := &fs.Options{}
	options.Debug = *debug
	options.AllowOther = true
	options.MountOptions.Options = append(options.MountOptions.Options, "fsname="+under)

	server, err := fs.Mount(flag.Arg(0), rootNode, options)
	if err != nil {
		log.Fatalf("Mount Failed!!: %v\n", err)
	}

	log.Println("=========================================================")
	log.Printf("Mounted %v with underlying root at %v\n", flag.Arg(0), under)
	log.Printf("hash table: %v\n", cfg.TablePath)
	log.Println("=========================================================")

	server.Wait()
}
