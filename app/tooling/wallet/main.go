// This program creates an encrypted keystore account for use with the node.
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/keystore"
)

func main() {
	password, err := getPassPhrase("Please enter a password to encrypt the wallet: ")
	if err != nil {
		log.Fatalln(err)
	}

	ks := keystore.NewKeyStore("./", keystore.StandardScryptN, keystore.StandardScryptP)
	acc, err := ks.NewAccount(password)
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Printf("New account created: %s\n", acc.Address.Hex())
}

func getPassPhrase(prompt string) (string, error) {
	fmt.Print(prompt)

	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}

	return strings.TrimSpace(password), nil
}
