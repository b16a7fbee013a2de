// Package seed provides helpers to create test and demo data for the
// application database. These helpers are intended for development and
// testing only.
package seed

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"readaddicts/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Options control how much data is generated and how.
type Options struct {
	NumUsers int
	NumPosts int
	// CommentsPerPost is the number of top-level comments per post.
	CommentsPerPost int
	// MaxThreadDepth bounds how deep generated reply chains go.
	MaxThreadDepth int
	// Conversations is the number of user pairs that exchange messages.
	Conversations int
	MaxDays       int
	ShouldClean   bool
	// DryRun builds entities with synthetic ids and writes nothing.
	DryRun bool
}

// Factory builds domain entities and persists them to the database.
// It is a thin helper used by Seed and by tests.
type Factory struct {
	db   *gorm.DB
	opts Options
	rnd  *rand.Rand
	seq  int
}

// NewFactory creates a new Factory bound to the provided Gorm DB.
func NewFactory(db *gorm.DB, opts Options) *Factory {
	seed := time.Now().UnixNano()
	gofakeit.Seed(seed)
	// #nosec G404: acceptable for seeding
	return &Factory{db: db, opts: opts, rnd: rand.New(rand.NewSource(seed))}
}

func (f *Factory) persist(v any, assignID func(string)) error {
	if f.opts.DryRun {
		assignID(uuid.NewString())
		return nil
	}
	return f.db.Create(v).Error
}

// pastTime returns a moment within the last MaxDays days.
func (f *Factory) pastTime() time.Time {
	maxDays := f.opts.MaxDays
	if maxDays <= 0 {
		maxDays = 90
	}
	back := time.Duration(f.rnd.Intn(maxDays))*24*time.Hour +
		time.Duration(f.rnd.Intn(24))*time.Hour +
		time.Duration(f.rnd.Intn(60))*time.Minute
	return time.Now().UTC().Add(-back)
}

// CreateUser constructs and persists a sample user.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	f.seq++
	handle := fmt.Sprintf("%s%d", gofakeit.Username(), f.seq)
	user := &models.User{
		Username:       handle,
		Email:          fmt.Sprintf("%s@%s", handle, gofakeit.DomainName()),
		Biography:      gofakeit.Sentence(10),
		ProfilePicture: fmt.Sprintf("https://i.pravatar.cc/150?u=%s", gofakeit.UUID()),
		LastActive:     f.pastTime(),
	}
	for _, override := range overrides {
		override(user)
	}

	if err := f.persist(user, func(id string) { user.ID = id }); err != nil {
		return nil, err
	}
	return user, nil
}

// CreatePost constructs and persists a sample post for the given user.
func (f *Factory) CreatePost(user *models.User, overrides ...func(*models.Post)) (*models.Post, error) {
	post := &models.Post{
		Content:   gofakeit.Paragraph(1, 3, 12, "\n"),
		UserID:    user.ID,
		CreatedAt: f.pastTime(),
	}
	for _, override := range overrides {
		override(post)
	}

	if err := f.persist(post, func(id string) { post.ID = id }); err != nil {
		return nil, err
	}
	return post, nil
}

// CreateComment constructs and persists a comment on post. A non-nil parent
// makes it a reply, created after the parent.
func (f *Factory) CreateComment(user *models.User, post *models.Post, parent *models.Comment, overrides ...func(*models.Comment)) (*models.Comment, error) {
	comment := &models.Comment{
		Content:   gofakeit.Sentence(8 + f.rnd.Intn(12)),
		UserID:    user.ID,
		PostID:    post.ID,
		CreatedAt: post.CreatedAt.Add(time.Duration(1+f.rnd.Intn(600)) * time.Minute),
	}
	if parent != nil {
		id := parent.ID
		comment.ParentID = &id
		comment.CreatedAt = parent.CreatedAt.Add(time.Duration(1+f.rnd.Intn(120)) * time.Minute)
	}
	for _, override := range overrides {
		override(comment)
	}

	if err := f.persist(comment, func(id string) { comment.ID = id }); err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateMessage constructs and persists a direct message.
func (f *Factory) CreateMessage(sender, receiver *models.User, at time.Time, overrides ...func(*models.Message)) (*models.Message, error) {
	msg := &models.Message{
		SenderID:   sender.ID,
		ReceiverID: receiver.ID,
		Content:    gofakeit.Sentence(4 + f.rnd.Intn(16)),
		Timestamp:  at,
	}
	for _, override := range overrides {
		override(msg)
	}

	if err := f.persist(msg, func(id string) { msg.ID = id }); err != nil {
		return nil, err
	}
	return msg, nil
}

// CreateThread grows a reply chain of up to depth levels under root, with a
// random fan-out of one or two replies per level.
func (f *Factory) CreateThread(users []*models.User, post *models.Post, root *models.Comment, depth int) (int, error) {
	created := 0
	frontier := []*models.Comment{root}
	for level := 0; level < depth && len(frontier) > 0; level++ {
		var next []*models.Comment
		for _, parent := range frontier {
			fanOut := 1 + f.rnd.Intn(2)
			for i := 0; i < fanOut; i++ {
				author := users[f.rnd.Intn(len(users))]
				reply, err := f.CreateComment(author, post, parent)
				if err != nil {
					return created, err
				}
				created++
				next = append(next, reply)
			}
		}
		// Keep only some branches alive so threads thin out with depth.
		if len(next) > 1 {
			next = next[:1+f.rnd.Intn(len(next)-1)]
		}
		frontier = next
	}
	if f.opts.DryRun {
		log.Printf("[dry-run] CreateThread: %d replies under %s", created, root.ID)
	}
	return created, nil
}
