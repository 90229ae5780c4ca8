// Command geocamverify verifies a GeoCam PNG offline.
//
// The tool extracts the embedded metadata and signature frame, rebuilds
// the canonical hash and checks the signature, without a running
// server. With -db it also consults a registry database so the device
// verdict matches the server's.
//
// Usage:
//
//	geocamverify [flags] <image.png>
//
// Examples:
//
//	# Signature-only verification
//	geocamverify photo.png
//
//	# Full verification against a registry database
//	geocamverify -db ~/.local/share/geocamd/registry.db photo.png
//
//	# JSON output for pipelines
//	geocamverify -json photo.png
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"geocamd/internal/registry"
	"geocamd/internal/verify"
)

var version = "dev"

func main() {
	dbPath := flag.String("db", "", "registry database for device lookup (optional)")
	jsonOut := flag.Bool("json", false, "print the result as JSON")
	versionFlag := flag.Bool("version", false, "print version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "geocamverify - Verify GeoCam PNG images\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <image.png>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *versionFlag {
		fmt.Printf("geocamverify %s\n", version)
		os.Exit(0)
	}
	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Error: image file required\n\n")
		flag.Usage()
		os.Exit(2)
	}

	pngBytes, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var devices verify.DeviceLookup = offlineLookup{}
	if *dbPath != "" {
		reg, err := registry.Open(*dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer reg.Close()
		devices = reg
	}

	res := verify.New(devices, nil).Verify(context.Background(), pngBytes, "")

	if *jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(res)
	} else {
		printText(res, *dbPath != "")
	}

	if !res.SignatureValid {
		os.Exit(1)
	}
}

func printText(res *verify.Result, withRegistry bool) {
	check := func(ok bool) string {
		if ok {
			return "PASS"
		}
		return "FAIL"
	}

	fmt.Printf("Signature:  %s\n", check(res.SignatureValid))
	if withRegistry {
		fmt.Printf("Device:     %s\n", check(res.DeviceKnown && !res.DeviceRevoked))
		if res.Device != nil {
			fmt.Printf("  Name:        %s\n", res.Device.Name())
			fmt.Printf("  Model:       %s\n", res.Device.DeviceModel)
			fmt.Printf("  Key id:      %s\n", res.Device.PublicKeyID)
			fmt.Printf("  Registered:  %s\n", res.Device.RegisteredAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("Authentic:  %s\n", check(res.Authentic))
	}
	fmt.Printf("Reason:     %s\n", res.Reason)
	if res.Frame != nil {
		fmt.Printf("Signed at:  %s\n", res.Frame.TS)
	}
	if res.BasicInfo != "" {
		fmt.Printf("Metadata:   %s\n", res.BasicInfo)
	}
}

// offlineLookup stands in for the registry when no database is given:
// every device is unknown and nothing is recorded.
type offlineLookup struct{}

func (offlineLookup) LookupByPublicKey(ctx context.Context, publicKeyB64 string) (*registry.Device, error) {
	return nil, registry.ErrNotFound
}

func (offlineLookup) RecordVerification(ctx context.Context, v registry.Verification) error {
	return nil
}
