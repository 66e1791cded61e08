package main

import (
	"crypto/rand"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"
)

// Prints a bcrypt hash for OPERATOR_TOKEN_HASH. Without an argument a random
// token is generated and printed first.
func main() {
	var token string
	if len(os.Args) >= 2 {
		token = os.Args[1]
	} else {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		token = fmt.Sprintf("%x", buf)
		fmt.Printf("token: %s\n", token)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), 12)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(string(hash))
}
