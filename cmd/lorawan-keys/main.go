// lorawan-keys derives LoRaWAN 1.0 session keys, builds Join Accepts for
// manual testing and hashes control API passwords.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/lorawan-server/lorawan-device-simulator/pkg/crypto"
	"github.com/lorawan-server/lorawan-device-simulator/pkg/lorawan"
)

const usage = `usage: lorawan-keys <command> [flags]

commands:
  derive         derive NwkSKey and AppSKey from a completed join
  join-accept    build an encrypted Join Accept PHYPayload
  hash-password  print a bcrypt hash for api.password_hash
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errUsage
	}

	switch args[0] {
	case "derive":
		return derive(args[1:], out)
	case "join-accept":
		return joinAccept(args[1:], out)
	case "hash-password":
		return hashPassword(args[1:], out)
	case "-h", "-help", "--help", "help":
		fmt.Fprint(out, usage)
		return nil
	}
	fmt.Fprint(os.Stderr, usage)
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

// joinParams are the values both derive and join-accept need
type joinParams struct {
	appKey   lorawan.AES128Key
	appNonce [3]byte
	netID    lorawan.NetID
}

func (p *joinParams) register(fs *flag.FlagSet) (appKey, appNonce, netID *string) {
	appKey = fs.String("app-key", "", "AppKey (32 hex digits)")
	appNonce = fs.String("app-nonce", "", "AppNonce (6 hex digits, wire order)")
	netID = fs.String("net-id", "000000", "NetID (6 hex digits)")
	return
}

func (p *joinParams) parse(appKey, appNonce, netID string) error {
	var err error
	if p.appKey, err = lorawan.ParseAES128Key(appKey); err != nil {
		return fmt.Errorf("-app-key: %w", err)
	}
	if p.netID, err = lorawan.ParseNetID(netID); err != nil {
		return fmt.Errorf("-net-id: %w", err)
	}

	b, err := hex.DecodeString(appNonce)
	if err != nil || len(b) != len(p.appNonce) {
		return fmt.Errorf("-app-nonce: expected 6 hex digits, got %q", appNonce)
	}
	copy(p.appNonce[:], b)
	return nil
}

func derive(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("derive", flag.ContinueOnError)
	var p joinParams
	appKey, appNonce, netID := p.register(fs)
	devNonce := fs.String("dev-nonce", "", "DevNonce (decimal or 0x hex)")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := p.parse(*appKey, *appNonce, *netID); err != nil {
		return err
	}
	nonce, err := strconv.ParseUint(*devNonce, 0, 16)
	if err != nil {
		return fmt.Errorf("-dev-nonce: %w", err)
	}

	nwkSKey, appSKey := lorawan.DeriveSessionKeys10(p.appKey, p.appNonce, p.netID, uint16(nonce))
	fmt.Fprintf(out, "NwkSKey: %s\n", nwkSKey)
	fmt.Fprintf(out, "AppSKey: %s\n", appSKey)
	return nil
}

func joinAccept(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("join-accept", flag.ContinueOnError)
	var p joinParams
	appKey, appNonce, netID := p.register(fs)
	devAddr := fs.String("dev-addr", "", "DevAddr (8 hex digits)")
	rxDelay := fs.Uint("rx-delay", 1, "RX1 delay in seconds")
	rx1DROffset := fs.Uint("rx1-dr-offset", 0, "RX1 data rate offset")
	rx2DataRate := fs.Uint("rx2-dr", 0, "RX2 data rate")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if err := p.parse(*appKey, *appNonce, *netID); err != nil {
		return err
	}
	addr, err := lorawan.ParseDevAddr(*devAddr)
	if err != nil {
		return fmt.Errorf("-dev-addr: %w", err)
	}
	if *rxDelay > 15 || *rx1DROffset > 7 || *rx2DataRate > 15 {
		return errors.New("rx-delay, rx1-dr-offset or rx2-dr out of range")
	}

	phy, err := lorawan.EncryptJoinAccept(p.appKey, lorawan.JoinAcceptPayload{
		AppNonce: p.appNonce,
		NetID:    p.netID,
		DevAddr:  addr,
		DLSettings: lorawan.DLSettings{
			RX1DROffset: uint8(*rx1DROffset),
			RX2DataRate: uint8(*rx2DataRate),
		},
		RxDelay: uint8(*rxDelay),
	})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, hex.EncodeToString(phy))
	return nil
}

func hashPassword(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("hash-password", flag.ContinueOnError)
	password := fs.String("password", "", "password to hash; a random one is generated when empty")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	if *password == "" {
		generated, err := crypto.GenerateRandomString(12)
		if err != nil {
			return err
		}
		*password = generated
		fmt.Fprintf(out, "password: %s\n", generated)
	}

	hash, err := crypto.HashPassword(*password)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "hash: %s\n", hash)
	return nil
}
