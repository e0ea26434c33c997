package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
)

// Generates the shared secrets the runner reads at startup: API_SECRET signs
// query submissions (see scripts/sign_request), JWT_SECRET verifies the
// bearer tokens that carry the acting user's email into the role-session
// name. Run once per secret.
func main() {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	secret := hex.EncodeToString(bytes)

	fmt.Println("=== New Secure Secret Generated ===")
	fmt.Println(secret)
	fmt.Println("=====================================")
	fmt.Println("1. Copy this secret to your .env or Secret Manager (API_SECRET=... or JWT_SECRET=...)")
	fmt.Println("2. Provide API_SECRET to the host application that submits queries, via a SECURE channel.")
	fmt.Println("3. DO NOT share this over Slack or Email without encryption.")
}
