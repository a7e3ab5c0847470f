package identity

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrHandleTaken        = errors.New("handle already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type EventType int

const (
	SignedIn EventType = iota
	SignedOut
)

// Event is a session-changed notification.
type Event struct {
	Type     EventType
	Identity Identity
}

// Notifier delivers session-changed notifications.
type Notifier interface {
	OnChange(fn func(Event)) (unsubscribe func())
}

type account struct {
	id   string
	hash []byte
}

// Provider is an in-memory development identity provider. Passwords are
// stored as bcrypt hashes; successful sign-ins return a signed access token.
type Provider struct {
	verifier *Verifier
	cost     int

	mu        sync.Mutex
	accounts  map[string]account
	listeners map[int]func(Event)
	next      int
}

// NewProvider creates a provider. cost <= 0 uses bcrypt.DefaultCost.
func NewProvider(v *Verifier, cost int) *Provider {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &Provider{
		verifier:  v,
		cost:      cost,
		accounts:  make(map[string]account),
		listeners: make(map[int]func(Event)),
	}
}

// SignUp registers handle and returns its new identity.
func (p *Provider) SignUp(handle, password string) (Identity, error) {
	handle = normalize(handle)
	if handle == "" || password == "" {
		return Identity{}, fmt.Errorf("%w: handle and password are required", ErrInvalidCredentials)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.accounts[handle]; exists {
		return Identity{}, ErrHandleTaken
	}
	acc := account{id: uuid.NewString(), hash: hash}
	p.accounts[handle] = acc
	return Identity{UserID: acc.id, Handle: handle}, nil
}

// SignIn checks the password and returns the identity plus an access token.
func (p *Provider) SignIn(handle, password string) (Identity, string, error) {
	handle = normalize(handle)

	p.mu.Lock()
	acc, ok := p.accounts[handle]
	p.mu.Unlock()
	if !ok {
		return Identity{}, "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return Identity{}, "", ErrInvalidCredentials
	}

	id := Identity{UserID: acc.id, Handle: handle}
	token, err := p.verifier.Issue(id)
	if err != nil {
		return Identity{}, "", err
	}
	p.notify(Event{Type: SignedIn, Identity: id})
	return id, token, nil
}

// SignOut revokes id's access tokens and announces the end of its session
// to listeners.
func (p *Provider) SignOut(id Identity) {
	if p.verifier != nil {
		p.verifier.Revoke(id.UserID)
	}
	p.notify(Event{Type: SignedOut, Identity: id})
}

func (p *Provider) OnChange(fn func(Event)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := p.next
	p.next++
	p.listeners[key] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, key)
	}
}

func (p *Provider) notify(ev Event) {
	p.mu.Lock()
	fns := make([]func(Event), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func normalize(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
