package usecase

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"classifieds/internal/domain/entity"
	"classifieds/pkg/errors"
	"classifieds/pkg/logger"
)

// ContactDraftFormat prefills the composer when a buyer contacts a seller.
const ContactDraftFormat = "Hi! I'm interested in your product \"%s\". Is it still available?"

type ViewState string

const (
	ViewIdle    ViewState = "idle"
	ViewLoading ViewState = "loading"
	ViewReady   ViewState = "ready"
)

type DisplayStatus string

const (
	DisplayPending   DisplayStatus = "pending"
	DisplayConfirmed DisplayStatus = "confirmed"
)

// DisplayMessage is one entry of the displayed sequence: either a pending
// placeholder keyed by TempID or a confirmed message keyed by its id.
type DisplayMessage struct {
	Status DisplayStatus `json:"status"`
	TempID string        `json:"temp_id,omitempty"`
	*entity.MessageWithSender
}

func (d DisplayMessage) Key() string {
	if d.Status == DisplayPending {
		return d.TempID
	}
	return d.ID
}

type SessionUpdateKind string

const (
	UpdateConversations SessionUpdateKind = "conversations"
	UpdateMessages      SessionUpdateKind = "messages"
	UpdateDraft         SessionUpdateKind = "draft"
	UpdateSendFailed    SessionUpdateKind = "send_failed"
)

// SessionUpdate is pushed to the client after every state change.
type SessionUpdate struct {
	Kind           SessionUpdateKind
	ConversationID string
	State          ViewState
	Conversations  []*entity.ConversationSummary
	Messages       []DisplayMessage
	Draft          string
	TempID         string
	Err            error
}

// SessionListener receives updates in order. It runs with the session
// locked and must not call back into the session.
type SessionListener func(update SessionUpdate)

// SendFailedError is returned for a send whose placeholder was shown and then
// withdrawn. The listener has already received UpdateSendFailed for it.
type SendFailedError struct {
	TempID string
	Err    error
}

func (e *SendFailedError) Error() string {
	return "send failed: " + e.Err.Error()
}

func (e *SendFailedError) Unwrap() error {
	return e.Err
}

// SessionView is a point-in-time copy of the session state.
type SessionView struct {
	ConversationID string
	State          ViewState
	Messages       []DisplayMessage
	Conversations  []*entity.ConversationSummary
	Draft          string
	Sending        bool
}

// ChatSession is the view model of one connected client. It merges loaded
// history, optimistic sends and live deliveries into one ordered sequence
// without duplicates, and marks messages read while they are on screen.
type ChatSession struct {
	chat     *ChatUseCase
	viewer   entity.UserSummary
	listener SessionListener
	now      func() time.Time
	tempID   func() string

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	conversations []*entity.ConversationSummary
	selected      *entity.Conversation
	generation    uint64
	state         ViewState
	display       []DisplayMessage
	sending       map[string]bool
	draft         string
	sub           *MessageSubscription
	closed        bool
}

// NewSession opens a session for viewer. Close must be called when the
// client goes away.
func (uc *ChatUseCase) NewSession(viewer entity.UserSummary, listener SessionListener) *ChatSession {
	if listener == nil {
		listener = func(SessionUpdate) {}
	}
	ctx, cancel := context.WithCancel(uc.background)
	return &ChatSession{
		chat:     uc,
		viewer:   viewer,
		listener: listener,
		now:      time.Now,
		tempID:   func() string { return "temp-" + uuid.New().String() },
		ctx:      ctx,
		cancel:   cancel,
		state:    ViewIdle,
		sending:  make(map[string]bool),
	}
}

// Open loads the conversation list.
func (s *ChatSession) Open(ctx context.Context) {
	list := s.chat.conversations.ListConversations(ctx, s.viewer.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.conversations = list
	s.emitConversations()
}

// SelectConversation switches the view to conversationID. The previous live
// feed is closed before the new one opens.
func (s *ChatSession) SelectConversation(ctx context.Context, conversationID string) error {
	conversation, err := s.chat.conversations.GetConversation(ctx, conversationID, s.viewer.ID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.BadRequest("Session is closed", nil)
	}
	previous := s.sub
	s.sub = nil
	s.generation++
	generation := s.generation
	s.selected = conversation
	s.state = ViewLoading
	s.display = nil
	s.emitMessages()
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	// Subscribe before loading so nothing inserted in between is missed;
	// the two sources are merged by id.
	sub, err := s.chat.messages.Subscribe(s.ctx, conversation.ID, func(message *entity.MessageWithSender) {
		s.handleInbound(generation, message)
	})
	if err != nil {
		logger.Error("ChatSession: live feed unavailable for conversation %s: %v", conversation.ID, err)
	}

	s.mu.Lock()
	if generation != s.generation || s.closed {
		s.mu.Unlock()
		if sub != nil {
			sub.Close()
		}
		return nil
	}
	s.sub = sub
	s.mu.Unlock()

	history := s.chat.messages.LoadHistory(ctx, conversation.ID)

	s.mu.Lock()
	if generation != s.generation || s.closed {
		s.mu.Unlock()
		return nil
	}
	for _, message := range history {
		if indexOfConfirmed(s.display, message.ID) < 0 {
			s.display = insertSorted(s.display, confirmed(message))
		}
	}
	s.state = ViewReady
	s.emitMessages()
	s.mu.Unlock()

	s.markRead(ctx, generation, conversation.ID)
	return nil
}

// StartConversation opens (creating if needed) the conversation with a seller
// about a product and prefills the composer when productTitle is given.
func (s *ChatSession) StartConversation(ctx context.Context, sellerID, productID, productTitle string) (*entity.Conversation, error) {
	conversation, created, err := s.chat.conversations.GetOrCreateConversation(ctx, CreateConversationInput{
		BuyerID:   s.viewer.ID,
		SellerID:  sellerID,
		ProductID: productID,
	})
	if err != nil {
		return nil, err
	}
	if created {
		s.Open(ctx)
	}
	if err := s.SelectConversation(ctx, conversation.ID); err != nil {
		return nil, err
	}

	if title := strings.TrimSpace(productTitle); title != "" {
		s.SetDraft(fmt.Sprintf(ContactDraftFormat, title))
	}
	return conversation, nil
}

// SetDraft replaces the composer text.
func (s *ChatSession) SetDraft(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	s.emitDraft()
}

// Send shows the message immediately as pending, stores it and replaces the
// placeholder with the confirmed message. On failure the placeholder is
// removed and text is restored as the draft.
func (s *ChatSession) Send(ctx context.Context, text string) error {
	content := strings.TrimSpace(text)

	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return errors.BadRequest("No conversation selected", nil)
	}
	if content == "" {
		s.mu.Unlock()
		return errors.Validation("content", "must not be empty")
	}
	conversation := s.selected
	if s.sending[conversation.ID] {
		s.mu.Unlock()
		return errors.Conflict("A message is already being sent", nil)
	}
	s.sending[conversation.ID] = true
	generation := s.generation

	tempID := s.tempID()
	sender := s.viewer
	placeholder := DisplayMessage{
		Status: DisplayPending,
		TempID: tempID,
		MessageWithSender: &entity.MessageWithSender{
			Message: entity.Message{
				ID:             tempID,
				ConversationID: conversation.ID,
				SenderID:       s.viewer.ID,
				ReceiverID:     conversation.OtherParticipant(s.viewer.ID),
				Content:        content,
				ProductID:      conversation.ProductID,
				CreatedAt:      s.now().UTC(),
			},
			Sender: &sender,
		},
	}
	s.display = insertSorted(s.display, placeholder)
	s.draft = ""
	s.emitMessages()
	s.emitDraft()
	s.mu.Unlock()

	message, err := s.chat.SendMessage(ctx, conversation, s.viewer.ID, content, "")

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sending, conversation.ID)
	current := generation == s.generation && !s.closed

	if err != nil {
		if current {
			s.display = removePending(s.display, tempID)
			s.draft = text
			s.emitMessages()
			s.emitDraft()
		}
		s.listener(SessionUpdate{
			Kind:           UpdateSendFailed,
			ConversationID: conversation.ID,
			TempID:         tempID,
			Draft:          text,
			Err:            err,
		})
		return &SendFailedError{TempID: tempID, Err: err}
	}

	if current {
		sender := s.viewer
		s.display = replacePending(s.display, tempID, confirmed(&entity.MessageWithSender{Message: *message, Sender: &sender}))
		s.emitMessages()
	}
	s.touchConversation(conversation.ID, message.CreatedAt)
	return nil
}

// MarkRead marks the selected conversation read.
func (s *ChatSession) MarkRead(ctx context.Context) error {
	s.mu.Lock()
	if s.selected == nil {
		s.mu.Unlock()
		return errors.BadRequest("No conversation selected", nil)
	}
	conversationID := s.selected.ID
	generation := s.generation
	s.mu.Unlock()

	s.markRead(ctx, generation, conversationID)
	return nil
}

// CloseConversation drops the selection and its live feed.
func (s *ChatSession) CloseConversation() {
	s.mu.Lock()
	previous := s.sub
	s.sub = nil
	s.generation++
	s.selected = nil
	s.state = ViewIdle
	s.display = nil
	s.emitMessages()
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
}

// Close ends the session. Later updates are not delivered.
func (s *ChatSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	previous := s.sub
	s.sub = nil
	s.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	s.cancel()
}

func (s *ChatSession) View() SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	view := SessionView{
		State:         s.state,
		Messages:      append([]DisplayMessage(nil), s.display...),
		Conversations: append([]*entity.ConversationSummary(nil), s.conversations...),
		Draft:         s.draft,
	}
	if s.selected != nil {
		view.ConversationID = s.selected.ID
		view.Sending = s.sending[s.selected.ID]
	}
	return view
}

func (s *ChatSession) handleInbound(generation uint64, message *entity.MessageWithSender) {
	s.mu.Lock()
	if generation != s.generation || s.closed {
		s.mu.Unlock()
		return
	}
	if indexOfConfirmed(s.display, message.ID) >= 0 {
		s.mu.Unlock()
		return
	}
	s.display = insertSorted(s.display, confirmed(message))
	s.emitMessages()
	s.touchConversation(message.ConversationID, message.CreatedAt)
	addressedToViewer := message.ReceiverID == s.viewer.ID && message.SenderID != s.viewer.ID
	s.mu.Unlock()

	if addressedToViewer {
		s.markRead(s.ctx, generation, message.ConversationID)
	}
}

func (s *ChatSession) markRead(ctx context.Context, generation uint64, conversationID string) {
	s.mu.Lock()
	stale := generation != s.generation || s.closed
	s.mu.Unlock()
	if stale {
		return
	}

	if _, err := s.chat.MarkRead(ctx, conversationID, s.viewer.ID); err != nil {
		logger.Error("ChatSession: mark read failed for conversation %s: %v", conversationID, err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, summary := range s.conversations {
		if summary.ID == conversationID && summary.UnreadCount != 0 {
			summary.UnreadCount = 0
			s.emitConversations()
			return
		}
	}
}

// touchConversation must be called with s.mu held.
func (s *ChatSession) touchConversation(conversationID string, at time.Time) {
	for _, summary := range s.conversations {
		if summary.ID != conversationID {
			continue
		}
		if at.After(summary.LastMessageAt) {
			summary.LastMessageAt = at
			SortConversations(s.conversations)
			s.emitConversations()
		}
		return
	}
}

func (s *ChatSession) emitMessages() {
	update := SessionUpdate{
		Kind:     UpdateMessages,
		State:    s.state,
		Messages: append([]DisplayMessage(nil), s.display...),
	}
	if s.selected != nil {
		update.ConversationID = s.selected.ID
	}
	s.listener(update)
}

func (s *ChatSession) emitConversations() {
	list := make([]*entity.ConversationSummary, len(s.conversations))
	for i, summary := range s.conversations {
		c := *summary
		list[i] = &c
	}
	s.listener(SessionUpdate{Kind: UpdateConversations, Conversations: list})
}

func (s *ChatSession) emitDraft() {
	update := SessionUpdate{Kind: UpdateDraft, Draft: s.draft}
	if s.selected != nil {
		update.ConversationID = s.selected.ID
	}
	s.listener(update)
}

func confirmed(message *entity.MessageWithSender) DisplayMessage {
	return DisplayMessage{Status: DisplayConfirmed, MessageWithSender: message}
}

// insertSorted places entry after every entry created at or before it.
func insertSorted(display []DisplayMessage, entry DisplayMessage) []DisplayMessage {
	i := sort.Search(len(display), func(i int) bool {
		return display[i].CreatedAt.After(entry.CreatedAt)
	})
	out := make([]DisplayMessage, 0, len(display)+1)
	out = append(out, display[:i]...)
	out = append(out, entry)
	return append(out, display[i:]...)
}

func indexOfConfirmed(display []DisplayMessage, id string) int {
	for i, entry := range display {
		if entry.Status == DisplayConfirmed && entry.ID == id {
			return i
		}
	}
	return -1
}

func indexOfPending(display []DisplayMessage, tempID string) int {
	for i, entry := range display {
		if entry.Status == DisplayPending && entry.TempID == tempID {
			return i
		}
	}
	return -1
}

func removePending(display []DisplayMessage, tempID string) []DisplayMessage {
	i := indexOfPending(display, tempID)
	if i < 0 {
		return display
	}
	return removeAt(display, i)
}

// replacePending swaps the placeholder for the confirmed message in place.
// If the live feed already delivered the confirmed id, the placeholder is
// just dropped.
func replacePending(display []DisplayMessage, tempID string, entry DisplayMessage) []DisplayMessage {
	if indexOfConfirmed(display, entry.ID) >= 0 {
		return removePending(display, tempID)
	}
	i := indexOfPending(display, tempID)
	if i < 0 {
		return insertSorted(display, entry)
	}

	out := append([]DisplayMessage(nil), display...)
	out[i] = entry
	inOrder := (i == 0 || !out[i-1].CreatedAt.After(entry.CreatedAt)) &&
		(i == len(out)-1 || !entry.CreatedAt.After(out[i+1].CreatedAt))
	if inOrder {
		return out
	}
	// The server clock disagreed with ours; re-place to keep creation order.
	return insertSorted(removeAt(out, i), entry)
}

func removeAt(display []DisplayMessage, i int) []DisplayMessage {
	out := make([]DisplayMessage, 0, len(display)-1)
	out = append(out, display[:i]...)
	return append(out, display[i+1:]...)
}
