package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"learnedindex/pkg/client"
	"learnedindex/pkg/common"
)

const Prompt = "lidx> "

func main() {
	serverAddr := flag.String("addr", "localhost:9090", "Learned index TCP server address")
	flag.Parse()

	fmt.Printf("Learned Index CLI (Target: %s)\n", *serverAddr)
	fmt.Println("Connecting...")

	cli, err := client.Dial(*serverAddr)
	if err != nil {
		fmt.Printf("Connection failed: %v\n", err)
		fmt.Println("Tip: Ensure the server is running (e.g. go run ./cmd/server).")
		return
	}
	defer cli.Close()
	fmt.Println("Connected! Type 'help' for commands.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(Prompt)
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])

		switch cmd {
		case "eval", "get":
			handleEval(cli, parts)
		case "many":
			handleMany(cli, parts)
		case "ingest", "put":
			handleIngest(cli, parts)
		case "rebuild":
			printJSON(cli.Rebuild())
		case "stats":
			printJSON(cli.Stats())
		case "help":
			printHelp()
		case "exit", "quit":
			fmt.Println("Bye!")
			return
		default:
			fmt.Printf("Unknown command: '%s'. Type 'help'.\n", cmd)
		}
	}
}

func parseKeys(args []string) ([]common.KeyType, error) {
	keys := make([]common.KeyType, 0, len(args))
	for _, a := range args {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			return nil, fmt.Errorf("bad key %q", a)
		}
		keys = append(keys, common.KeyType(f))
	}
	return keys, nil
}

func handleEval(cli *client.Client, parts []string) {
	if len(parts) != 2 {
		fmt.Println("Usage: eval <key>")
		return
	}
	keys, err := parseKeys(parts[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()
	pos, found, err := cli.Eval(keys[0])
	duration := time.Since(start)

	switch {
	case err != nil:
		fmt.Printf("Error: %v\n", err)
	case !found:
		fmt.Printf("(absent) (%v)\n", duration)
	default:
		fmt.Printf("%d (%v)\n", pos, duration)
	}
}

func handleMany(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: many <key> [key...]")
		return
	}
	keys, err := parseKeys(parts[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()
	res, err := cli.EvalMany(keys)
	duration := time.Since(start)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	for i, l := range res {
		if i >= 20 {
			fmt.Printf("... and %d more\n", len(res)-20)
			break
		}
		fmt.Printf("  %g -> %s\n", keys[i], l)
	}
	fmt.Printf("(%d keys, %v)\n", len(res), duration)
}

func handleIngest(cli *client.Client, parts []string) {
	if len(parts) < 2 {
		fmt.Println("Usage: ingest <key> [key...]")
		return
	}
	keys, err := parseKeys(parts[1:])
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	start := time.Now()
	if err := cli.Ingest(keys); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	fmt.Printf("Staged %d keys (%v). Run 'rebuild' to make them searchable.\n", len(keys), time.Since(start))
}

func printJSON(v map[string]interface{}, err error) {
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(out))
}

func printHelp() {
	fmt.Println(`
Commands:
  eval <key>             Position of key, or (absent)
  many <key> [key...]    Batch lookup
  ingest <key> [key...]  Stage keys for the next rebuild
  rebuild                Merge staged keys and swap in a new index
  stats                  Index and workload statistics
  exit                   Exit CLI
	`)
}
