// Command trustctl holds offline operator tools for trustd: signing keys,
// the admin token hash, fingerprints, threshold key shares and escrows. It
// also plays the device side of a pairing key agreement.
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/auth"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/crypto"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/fingerprint"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/keys"
	"github.com/XDM-ZSBW/zip-myl-backend-sub000/internal/storage"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

var errUsage = errors.New("usage")

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) < 1 {
		return errUsage
	}
	in := bufio.NewReader(stdin)
	switch args[0] {
	case "keygen":
		fs := flag.NewFlagSet("keygen", flag.ContinueOnError)
		out := fs.String("out", "trustd.key", "where to write the PEM Ed25519 key")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return cmdKeygen(*out, stdout)

	case "hash-admin":
		secret, err := promptSecret(in, stdout, "Admin token: ")
		if err != nil {
			return err
		}
		defer crypto.Zero(secret)
		h, err := auth.HashSecret(auth.DefaultArgon, string(secret))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, h)
		return nil

	case "fingerprint":
		fs := flag.NewFlagSet("fingerprint", flag.ContinueOnError)
		salt := fs.String("salt", os.Getenv("TRUST_FINGERPRINT_SALT"), "fingerprint salt")
		user := fs.String("user", "", "user id, prints the device id when set")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return cmdFingerprint(in, stdout, *salt, *user)

	case "split":
		fs := flag.NewFlagSet("split", flag.ContinueOnError)
		devices := fs.String("devices", "", "comma separated device ids")
		threshold := fs.Int("t", 2, "shares needed to reconstruct")
		dir := fs.String("out", ".", "directory for <device>.share files")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return cmdSplit(stdout, splitList(*devices), *threshold, *dir)

	case "combine":
		return cmdCombine(stdout, args[1:])

	case "escrow":
		fs := flag.NewFlagSet("escrow", flag.ContinueOnError)
		dir := fs.String("dir", "./escrows", "escrow blob directory")
		devices := fs.String("devices", "", "comma separated device ids allowed to recover")
		keyID := fs.String("key-id", "", "id of the escrowed key")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return cmdEscrow(in, stdout, *dir, splitList(*devices), *keyID)

	case "recover":
		fs := flag.NewFlagSet("recover", flag.ContinueOnError)
		dir := fs.String("dir", "./escrows", "escrow blob directory")
		id := fs.String("id", "", "escrow id")
		device := fs.String("device", "", "recovering device id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return cmdRecover(in, stdout, *dir, *id, *device)

	case "x25519":
		fs := flag.NewFlagSet("x25519", flag.ContinueOnError)
		out := fs.String("out", "device.x25519", "where to write the hex private key")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		return cmdX25519(stdout, *out)

	case "seal", "open":
		fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
		keyFile := fs.String("key", "device.x25519", "own hex private key file")
		peer := fs.String("peer", "", "peer public key, hex")
		rel := fs.String("context", "", "agreement context, usually the relationship id")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		key, err := agreedKey(*keyFile, *peer, *rel)
		if err != nil {
			return err
		}
		defer crypto.Zero(key)
		if args[0] == "seal" {
			return cmdSeal(in, stdout, key, *rel)
		}
		return cmdOpen(in, stdout, key, *rel)

	case "derive":
		fs := flag.NewFlagSet("derive", flag.ContinueOnError)
		device := fs.String("device", "", "device id")
		fp := fs.String("fingerprint", "", "recorded device fingerprint")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		secret, err := promptSecret(in, stdout, "User secret: ")
		if err != nil {
			return err
		}
		defer crypto.Zero(secret)
		dk, err := keys.New(keys.Config{}, nil).DeriveDeviceKey(*device, secret, *fp)
		if err != nil {
			return err
		}
		defer crypto.Zero(dk.Key)
		fmt.Fprintf(stdout, "%s %s\n", dk.KeyID, hex.EncodeToString(dk.Key))
		return nil
	}
	return errUsage
}

func usage() {
	fmt.Print(`trustctl commands:

  keygen      --out trustd.key
  hash-admin  (reads the token from stdin)
  fingerprint --salt S [--user U] < device-info.json
  split       --devices a,b,c --t 2 [--out dir]
  combine     a.share b.share ...
  escrow      --devices a,b [--dir ./escrows] [--key-id K] (reads hex key, then passphrase)
  recover     --id esc_... --device a [--dir ./escrows] (reads the passphrase)
  derive      --device dev_... --fingerprint <hex> (reads the secret from stdin)
  x25519      --out device.x25519 (prints the public key)
  seal        --key device.x25519 --peer <hex> --context rel_... < plaintext
  open        --key device.x25519 --peer <hex> --context rel_... < hex ciphertext

Examples:
  trustctl keygen --out /etc/trustd/signing.key
  echo -n "$ADMIN_TOKEN" | trustctl hash-admin
  trustctl split --devices dev_a,dev_b,dev_c --t 2 --out ./shares
`)
}

func cmdKeygen(out string, stdout io.Writer) error {
	_, priv, err := crypto.NewSigningKey()
	if err != nil {
		return err
	}
	defer crypto.Zero(priv)
	pemBytes, err := crypto.EncodeSigningKey(priv)
	if err != nil {
		return err
	}
	if err := os.WriteFile(out, pemBytes, 0o600); err != nil {
		return err
	}
	fmt.Fprintln(stdout, "signing key written:", out)
	return nil
}

func cmdFingerprint(in io.Reader, stdout io.Writer, salt, user string) error {
	if salt == "" {
		return errors.New("--salt required")
	}
	var info fingerprint.DeviceInfo
	if err := json.NewDecoder(in).Decode(&info); err != nil {
		return fmt.Errorf("device info: %w", err)
	}
	svc, err := fingerprint.New([]byte(salt))
	if err != nil {
		return err
	}
	res := svc.Generate(info)
	out := map[string]any{"fingerprint": res.Fingerprint, "components": res.Components}
	if user != "" {
		out["deviceId"] = svc.DeviceID(user, res.Fingerprint)
	}
	b, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(stdout, string(b))
	return nil
}

func cmdSplit(stdout io.Writer, devices []string, threshold int, dir string) error {
	res, err := keys.New(keys.Config{}, nil).SplitKey(devices, threshold)
	if err != nil {
		return err
	}
	defer crypto.Zero(res.Key)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	for _, sh := range res.Shares {
		b, err := keys.MarshalShare(sh)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, sh.DeviceID+".share"), b, 0o600); err != nil {
			return err
		}
	}
	fmt.Fprintf(stdout, "%s %s\n", res.KeyID, hex.EncodeToString(res.Key))
	return nil
}

func cmdCombine(stdout io.Writer, paths []string) error {
	if len(paths) < 2 {
		return errors.New("at least two share files required")
	}
	shares := make([]keys.Share, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sh, err := keys.UnmarshalShare(b)
		if err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
		shares = append(shares, sh)
	}
	key, err := keys.New(keys.Config{}, nil).ReconstructKey(shares, 0)
	if err != nil {
		return err
	}
	defer crypto.Zero(key)
	fmt.Fprintln(stdout, hex.EncodeToString(key))
	return nil
}

func cmdEscrow(in *bufio.Reader, stdout io.Writer, dir string, devices []string, keyID string) error {
	blobs, err := storage.NewFileBlobStore(dir)
	if err != nil {
		return err
	}
	keyHex, err := promptSecret(in, stdout, "Key (hex): ")
	if err != nil {
		return err
	}
	key, err := hex.DecodeString(string(keyHex))
	crypto.Zero(keyHex)
	if err != nil {
		return fmt.Errorf("key: %w", err)
	}
	defer crypto.Zero(key)
	pass, err := promptSecret(in, stdout, "Passphrase: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(pass)
	e, err := keys.New(keys.Config{}, blobs).CreateEscrow(context.Background(), key, pass, devices, keyID)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, e.ID)
	return nil
}

func cmdRecover(in *bufio.Reader, stdout io.Writer, dir, id, device string) error {
	blobs, err := storage.NewFileBlobStore(dir)
	if err != nil {
		return err
	}
	svc := keys.New(keys.Config{}, blobs)
	e, err := svc.LoadEscrow(context.Background(), id, device)
	if err != nil {
		return err
	}
	pass, err := promptSecret(in, stdout, "Passphrase: ")
	if err != nil {
		return err
	}
	defer crypto.Zero(pass)
	key, err := svc.RecoverEscrow(e, pass)
	if err != nil {
		return err
	}
	defer crypto.Zero(key)
	fmt.Fprintln(stdout, hex.EncodeToString(key))
	return nil
}

func cmdX25519(stdout io.Writer, out string) error {
	kp, err := keys.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer crypto.Zero(kp.Private)
	if err := os.WriteFile(out, []byte(hex.EncodeToString(kp.Private)+"\n"), 0o600); err != nil {
		return err
	}
	fmt.Fprintln(stdout, hex.EncodeToString(kp.Public))
	return nil
}

// agreedKey loads the private key in keyFile and agrees a key with the hex
// encoded peer public key under rel.
func agreedKey(keyFile, peerHex, rel string) ([]byte, error) {
	if rel == "" {
		return nil, errors.New("--context required")
	}
	raw, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, err
	}
	priv, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	crypto.Zero(raw)
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	defer crypto.Zero(priv)
	peer, err := hex.DecodeString(peerHex)
	if err != nil {
		return nil, fmt.Errorf("peer key: %w", err)
	}
	return keys.AgreeKey(priv, peer, rel)
}

func cmdSeal(in io.Reader, stdout io.Writer, key []byte, rel string) error {
	pt, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	defer crypto.Zero(pt)
	ct, err := keys.Encrypt(key, pt, []byte(rel))
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, hex.EncodeToString(ct))
	return nil
}

func cmdOpen(in io.Reader, stdout io.Writer, key []byte, rel string) error {
	raw, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	ct, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("ciphertext: %w", err)
	}
	pt, err := keys.Decrypt(key, ct, []byte(rel))
	if err != nil {
		return err
	}
	defer crypto.Zero(pt)
	_, err = stdout.Write(pt)
	return err
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func promptSecret(in *bufio.Reader, stdout io.Writer, prompt string) ([]byte, error) {
	fmt.Fprint(stdout, prompt)
	b, err := in.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(b) > 0) {
		return nil, err
	}
	b = []byte(strings.TrimRight(string(b), "\r\n"))
	if len(b) == 0 {
		return nil, errors.New("empty secret")
	}
	return b, nil
}
