// fake_service.go is a test helper standing in for the Excel service
// executable. It is compiled and run by launcher and bootstrap tests.
//
// Behavior is controlled by env vars:
//
//	FAKE_SERVICE_MODE      "exit" (default), "hang", "serve" or "auto"
//	                       ("auto" serves when started with -p, else exits)
//	FAKE_SERVICE_EXIT_CODE exit code for "exit" mode
//	FAKE_SERVICE_RECORD    file that gets one line of arguments per run
//	FAKE_SERVICE_REDIS     Redis address "serve" mode announces readiness on
//	FAKE_SERVICE_TOPIC     readiness topic
//	FAKE_SERVICE_SENDER    sender identity of the readiness broadcast
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

func main() {
	fmt.Println("fake service started")
	fmt.Fprintln(os.Stderr, "fake service diagnostics")

	if path := os.Getenv("FAKE_SERVICE_RECORD"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			os.Exit(90)
		}
		fmt.Fprintln(f, strings.Join(os.Args[1:], " "))
		f.Close()
	}

	mode := os.Getenv("FAKE_SERVICE_MODE")
	if mode == "auto" {
		mode = "exit"
		if len(os.Args) > 1 && os.Args[1] == "-p" {
			mode = "serve"
		}
	}

	switch mode {
	case "hang":
		time.Sleep(time.Hour)
	case "serve":
		if err := announce(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(91)
		}
		time.Sleep(time.Hour)
	default:
		code, _ := strconv.Atoi(os.Getenv("FAKE_SERVICE_EXIT_CODE"))
		os.Exit(code)
	}
}

func announce() error {
	client := redis.NewClient(&redis.Options{Addr: os.Getenv("FAKE_SERVICE_REDIS")})
	defer client.Close()

	payload, _ := json.Marshal(map[string]any{
		"sender":  os.Getenv("FAKE_SERVICE_SENDER"),
		"payload": map[string]string{"status": "ready"},
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Publish(ctx, os.Getenv("FAKE_SERVICE_TOPIC"), payload).Err()
}
