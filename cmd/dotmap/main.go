// main.go - interactive dotmap client
// Copyright (C) 2026  The dotmap authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/dotmap/dotmap/client"
)

func main() {
	addr := flag.String("a", "127.0.0.1:1984", "Server address")
	flag.Parse()

	c, err := client.Dial(*addr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(-1)
	}
	defer c.Close()
	fmt.Printf("Connected to %v as #%d\n", *addr, c.ID())

	go func() {
		for f := range c.Notifications() {
			fmt.Printf("* %s\n", printable(f.Data))
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		reply, err := c.Send([]byte(line))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
			os.Exit(-1)
		}
		fmt.Printf("> %s\n", printable(reply))
	}
}

// printable renders a reply as text, falling back to hex for binary
// payloads like increment results.
func printable(p []byte) string {
	for _, b := range p {
		if b < 0x20 && b != '\t' {
			return fmt.Sprintf("0x%x", p)
		}
	}
	return string(p)
}
