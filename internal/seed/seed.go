// Package seed provides database seeding utilities for development and testing.
package seed

import (
	"fmt"
	"log"
	"sort"
	"time"

	"readaddicts/internal/models"

	"gorm.io/gorm"
)

// Result summarizes what a Seed run created.
type Result struct {
	Users    int
	Posts    int
	Comments int
	Messages int
}

// DefaultOptions returns a small but realistic data set.
func DefaultOptions() Options {
	return Options{
		NumUsers:        20,
		NumPosts:        40,
		CommentsPerPost: 3,
		MaxThreadDepth:  4,
		Conversations:   15,
		MaxDays:         60,
	}
}

// Seed populates the database with users, posts, nested comment threads and
// direct-message conversations.
func Seed(db *gorm.DB, opts Options) (*Result, error) {
	if opts.NumUsers < 2 {
		return nil, fmt.Errorf("seed needs at least 2 users, got %d", opts.NumUsers)
	}
	log.Printf("🌱 Starting database seeding with %d users and %d posts...", opts.NumUsers, opts.NumPosts)

	if opts.ShouldClean && !opts.DryRun {
		if err := clearData(db); err != nil {
			log.Printf("⚠️  Warning: Could not clear all existing data, but continuing anyway: %v", err)
		}
	}

	f := NewFactory(db, opts)
	res := &Result{}

	users := make([]*models.User, 0, opts.NumUsers)
	for i := 0; i < opts.NumUsers; i++ {
		u, err := f.CreateUser()
		if err != nil {
			return res, fmt.Errorf("create user: %w", err)
		}
		users = append(users, u)
	}
	res.Users = len(users)
	log.Printf("✓ %d test users created", res.Users)

	for i := 0; i < opts.NumPosts; i++ {
		author := users[f.rnd.Intn(len(users))]
		post, err := f.CreatePost(author)
		if err != nil {
			return res, fmt.Errorf("create post: %w", err)
		}
		res.Posts++

		for j := 0; j < opts.CommentsPerPost; j++ {
			root, err := f.CreateComment(users[f.rnd.Intn(len(users))], post, nil)
			if err != nil {
				return res, fmt.Errorf("create comment: %w", err)
			}
			res.Comments++
			if opts.MaxThreadDepth > 0 {
				n, err := f.CreateThread(users, post, root, 1+f.rnd.Intn(opts.MaxThreadDepth))
				res.Comments += n
				if err != nil {
					return res, fmt.Errorf("create thread: %w", err)
				}
			}
		}
	}
	log.Printf("✓ %d posts with %d comments created", res.Posts, res.Comments)

	n, err := seedConversations(f, users, opts.Conversations)
	res.Messages = n
	if err != nil {
		return res, err
	}
	log.Printf("✓ %d messages created", res.Messages)

	log.Println("🎉 Database seeding completed successfully!")
	return res, nil
}

// seedConversations picks distinct user pairs and writes an alternating
// exchange for each. Everything but the tail of a conversation is marked read.
func seedConversations(f *Factory, users []*models.User, count int) (int, error) {
	type pair struct{ a, b int }
	seen := make(map[pair]bool)
	maxPairs := len(users) * (len(users) - 1) / 2
	if count > maxPairs {
		count = maxPairs
	}

	created := 0
	for len(seen) < count {
		a, b := f.rnd.Intn(len(users)), f.rnd.Intn(len(users))
		if a == b {
			continue
		}
		if a > b {
			a, b = b, a
		}
		p := pair{a, b}
		if seen[p] {
			continue
		}
		seen[p] = true

		length := 2 + f.rnd.Intn(10)
		stamps := make([]time.Time, length)
		for i := range stamps {
			stamps[i] = f.pastTime()
		}
		sort.Slice(stamps, func(i, j int) bool { return stamps[i].Before(stamps[j]) })

		unread := f.rnd.Intn(3)
		for i, at := range stamps {
			sender, receiver := users[a], users[b]
			if f.rnd.Intn(2) == 0 {
				sender, receiver = receiver, sender
			}
			read := i < length-unread
			_, err := f.CreateMessage(sender, receiver, at, func(m *models.Message) {
				if read {
					readAt := at.Add(time.Minute)
					m.IsRead = true
					m.ReadAt = &readAt
				}
			})
			if err != nil {
				return created, fmt.Errorf("create message: %w", err)
			}
			created++
		}
	}
	return created, nil
}

func clearData(db *gorm.DB) error {
	log.Println("🗑️  Clearing existing data...")
	if db.Dialector.Name() == "postgres" {
		return db.Exec(`TRUNCATE TABLE messages, comments, posts, users RESTART IDENTITY CASCADE;`).Error
	}
	// Children first so foreign keys hold on engines without TRUNCATE.
	for _, table := range []string{"messages", "comments", "posts", "users"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
