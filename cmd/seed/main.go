// Command seed populates the database with demo readers, posts, comment
// threads and conversations.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"readaddicts/internal/config"
	"readaddicts/internal/database"
	"readaddicts/internal/seed"
)

func main() {
	defaults := seed.DefaultOptions()

	numUsers := flag.Int("users", defaults.NumUsers, "Number of users to create")
	numPosts := flag.Int("posts", defaults.NumPosts, "Number of posts to create")
	comments := flag.Int("comments", defaults.CommentsPerPost, "Top-level comments per post")
	depth := flag.Int("depth", defaults.MaxThreadDepth, "Maximum reply depth under each comment")
	conversations := flag.Int("conversations", defaults.Conversations, "Number of user pairs that exchange messages")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	dryRun := flag.Bool("dry-run", false, "Generate data without writing it")
	flag.Parse()

	log.Println("🌱 Database Seeder")
	log.Println("==================")
	log.Printf("Target: %d users, %d posts, clean=%v\n", *numUsers, *numPosts, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := database.ApplySchema(ctx, db, cfg); err != nil {
		log.Fatalf("Failed to apply schema: %v", err)
	}

	res, err := seed.Seed(db, seed.Options{
		NumUsers:        *numUsers,
		NumPosts:        *numPosts,
		CommentsPerPost: *comments,
		MaxThreadDepth:  *depth,
		Conversations:   *conversations,
		MaxDays:         defaults.MaxDays,
		ShouldClean:     *shouldClean,
		DryRun:          *dryRun,
	})
	if err != nil {
		log.Fatalf("❌ Seeding failed: %v", err)
	}

	log.Printf("✨ All done! users=%d posts=%d comments=%d messages=%d",
		res.Users, res.Posts, res.Comments, res.Messages)
}
