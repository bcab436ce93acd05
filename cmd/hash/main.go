// Package main prints the bcrypt hash of a password so an operator can seed the
// first platform_owner account directly in the users table. The password is
// read from stdin so it does not end up in shell history.
//
//	printf '%s' "$PASSWORD" | go run ./cmd/hash
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sentinelops/sentinel/internal/auth"
)

func main() {
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		log.Fatalf("read password: %v", err)
	}
	password := strings.TrimRight(line, "\r\n")

	hash, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}
	fmt.Println(hash)
}
