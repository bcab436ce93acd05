// Package main generates an OpenPGP key pair for signing audit archives. The
// armored private key is written to the file given by -out (mode 0600) and
// should be referenced by SENTINEL_AUDIT_RETENTION_SIGNING_KEY_FILE. The public
// key is printed so it can be handed to whoever verifies archives.
//
//	go run ./scripts/generate-key.go -name "Sentinel Archive" -email archive@example.com -out archive-signing.asc
package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
)

func main() {
	name := flag.String("name", "Sentinel Audit Archive", "key owner name")
	email := flag.String("email", "", "key owner email (required)")
	out := flag.String("out", "archive-signing.asc", "private key output file")
	flag.Parse()

	if *email == "" {
		log.Fatal("-email is required")
	}

	entity, err := openpgp.NewEntity(*name, "audit archive signing", *email, &packet.Config{
		RSABits: 4096,
	})
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	var priv bytes.Buffer
	w, err := armor.Encode(&priv, openpgp.PrivateKeyType, nil)
	if err != nil {
		log.Fatal(err)
	}
	if err := entity.SerializePrivate(w, nil); err != nil {
		log.Fatalf("serialize private key: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*out, priv.Bytes(), 0o600); err != nil {
		log.Fatalf("write %s: %v", *out, err)
	}

	var pub bytes.Buffer
	w, err = armor.Encode(&pub, openpgp.PublicKeyType, nil)
	if err != nil {
		log.Fatal(err)
	}
	if err := entity.Serialize(w); err != nil {
		log.Fatalf("serialize public key: %v", err)
	}
	if err := w.Close(); err != nil {
		log.Fatal(err)
	}

	fmt.Printf("Key ID:      %s\n", entity.PrimaryKey.KeyIdString())
	fmt.Printf("Private key: %s\n\n", *out)
	fmt.Print(pub.String())
}
