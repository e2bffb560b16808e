// Command evcron-snapshot is the thin front end over the snapshot
// transport: "build" packs a user's events/ tree into a snapshot
// file; "install" (run by the privileged scheduler user, typically
// via sudo) copies a user's snapshot into the system trees directory
// the scheduler reads from.
package main

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/spf13/pflag"

	"github.com/evcron/evcron/internal/snapshot"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "build":
		runBuild(os.Args[2:])
	case "install":
		runInstall(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: evcron-snapshot build --events-dir DIR --out FILE")
	fmt.Fprintln(os.Stderr, "       evcron-snapshot install --src FILE --user NAME --trees-dir DIR")
}

func runBuild(args []string) {
	fs := pflag.NewFlagSet("build", pflag.ExitOnError)
	eventsDir := fs.String("events-dir", "", "path to the user's events/ directory")
	out := fs.String("out", "", "destination snapshot file")
	maxSize := fs.Int64("max-size", 256*1024, "maximum snapshot size in bytes")
	_ = fs.Parse(args)

	if *eventsDir == "" || *out == "" {
		usage()
		os.Exit(2)
	}

	if err := snapshot.Build(*eventsDir, *out, *maxSize); err != nil {
		fmt.Fprintln(os.Stderr, "build snapshot:", err)
		os.Exit(1)
	}
}

func runInstall(args []string) {
	fs := pflag.NewFlagSet("install", pflag.ExitOnError)
	src := fs.String("src", "", "user's snapshot file to install")
	username := fs.String("user", "", "owning username")
	treesDir := fs.String("trees-dir", "/var/hcron/trees", "system trees directory the scheduler reads from")
	maxSize := fs.Int64("max-size", 256*1024, "maximum snapshot size in bytes")
	_ = fs.Parse(args)

	if *src == "" || *username == "" {
		usage()
		os.Exit(2)
	}

	u, err := user.Lookup(*username)
	if err != nil {
		fmt.Fprintln(os.Stderr, "resolve user:", err)
		os.Exit(1)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		fmt.Fprintln(os.Stderr, "non-numeric uid:", err)
		os.Exit(1)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		fmt.Fprintln(os.Stderr, "non-numeric gid:", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*treesDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create trees dir:", err)
		os.Exit(1)
	}
	dest := filepath.Join(*treesDir, *username)

	if err := snapshot.Install(*src, dest, uid, gid, *maxSize); err != nil {
		fmt.Fprintln(os.Stderr, "install snapshot:", err)
		os.Exit(1)
	}
}
