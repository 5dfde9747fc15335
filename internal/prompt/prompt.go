// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package prompt reads trustee input for the command line tools.
package prompt

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"golang.org/x/term"
)

// Output receives prompts.
var Output io.Writer = os.Stderr

// isTerminal reports whether stdin is a terminal.  Keys are only read
// without echo from a terminal.
var isTerminal = func() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

var readPassword = func() ([]byte, error) {
	return term.ReadPassword(int(os.Stdin.Fd()))
}

// zero overwrites b.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// promptList prompts the user with the given prefix, list of valid responses,
// and default list entry to use.  The prompt is repeated until a valid
// response is read.
func promptList(reader *bufio.Reader, prefix string, validResponses []string,
	defaultEntry string) (string, error) {

	validStrings := strings.Join(validResponses, "/")
	prompt := fmt.Sprintf("%s (%s) [%s]: ", prefix, validStrings,
		defaultEntry)

	for {
		fmt.Fprint(Output, prompt)
		reply, err := reader.ReadString('\n')
		if err != nil && (err != io.EOF || reply == "") {
			return "", err
		}
		reply = strings.TrimSpace(strings.ToLower(reply))
		if reply == "" {
			reply = defaultEntry
		}

		for _, validResponse := range validResponses {
			if reply == validResponse {
				return reply, nil
			}
		}
	}
}

// Confirm asks a yes/no question.  An empty reply selects defaultYes.
func Confirm(reader *bufio.Reader, question string, defaultYes bool) (bool, error) {
	defaultEntry := "no"
	if defaultYes {
		defaultEntry = "yes"
	}
	valid := []string{"n", "no", "y", "yes"}
	response, err := promptList(reader, question, valid, defaultEntry)
	if err != nil {
		return false, err
	}
	return response == "yes" || response == "y", nil
}

// PrivateKey reads a WIF encoded private key for params.  On a terminal the
// key is read without echo and asked for again until it decodes.  Otherwise
// one line is read from reader.
func PrivateKey(reader *bufio.Reader, params *chaincfg.Params) (*btcutil.WIF, error) {
	if !isTerminal() {
		line, err := reader.ReadBytes('\n')
		defer zero(line)
		if err != nil && (err != io.EOF || len(line) == 0) {
			return nil, err
		}
		return decodeWIF(line, params)
	}

	for {
		fmt.Fprint(Output, "Enter the trustee private key (WIF): ")
		line, err := readPassword()
		fmt.Fprintln(Output)
		if err != nil {
			return nil, err
		}
		wif, err := decodeWIF(line, params)
		zero(line)
		if err != nil {
			fmt.Fprintln(Output, err)
			continue
		}
		return wif, nil
	}
}

func decodeWIF(line []byte, params *chaincfg.Params) (*btcutil.WIF, error) {
	wif, err := btcutil.DecodeWIF(string(bytes.TrimSpace(line)))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	if !wif.IsForNet(params) {
		return nil, fmt.Errorf("private key is not for network %s",
			params.Name)
	}
	return wif, nil
}
