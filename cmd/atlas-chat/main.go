package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"atlas-voice/gemini"
)

func main() {
	thinking := flag.Bool("thinking", false, "Use the deeper reasoning model")
	search := flag.Bool("search", false, "Enable web search grounding")
	flag.Parse()

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatal("GEMINI_API_KEY not set")
	}

	ctx := context.Background()
	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		log.Fatalf("Failed to create Gemini client: %v", err)
	}

	chat := gemini.NewChat(client)
	opts := gemini.ChatOptions{Thinking: *thinking, Search: *search}

	var history []gemini.ChatMessage
	scanner := bufio.NewScanner(os.Stdin)

	fmt.Println("Atlas chat. Type a message, or 'quit' to exit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			break
		}

		history = append(history, gemini.ChatMessage{Role: gemini.RoleUser, Content: line})

		result, err := chat.Send(ctx, history, opts)
		if err != nil {
			log.Printf("❌ Chat error: %v", err)
			history = history[:len(history)-1]
			continue
		}

		fmt.Println(result.Text)
		for _, c := range result.Citations {
			fmt.Printf("  📎 %s (%s)\n", c.Title, c.URI)
		}
		history = append(history, gemini.ChatMessage{Role: gemini.RoleModel, Content: result.Text})
	}
}
