package usecase

import (
	"context"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"classifieds/internal/domain/entity"
	"classifieds/internal/domain/repository"
	"classifieds/pkg/errors"
	"classifieds/pkg/logger"
)

// unreadCountConcurrency bounds the per-conversation count queries of one listing.
const unreadCountConcurrency = 8

type ConversationUseCase struct {
	conversationRepo repository.ConversationRepository
	messageRepo      repository.MessageRepository
	now              func() time.Time
}

func NewConversationUseCase(
	conversationRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
) *ConversationUseCase {
	return &ConversationUseCase{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		now:              time.Now,
	}
}

type CreateConversationInput struct {
	BuyerID   string
	SellerID  string
	ProductID string
}

// ListConversations returns the user's conversations, most recently active
// first, each with the user's unread count. Store failures yield an empty list.
func (uc *ConversationUseCase) ListConversations(ctx context.Context, userID string) []*entity.ConversationSummary {
	summaries, err := uc.conversationRepo.ListByParticipant(ctx, userID)
	if err != nil {
		logger.Error("ListConversations: failed for user %s: %v", userID, err)
		return []*entity.ConversationSummary{}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unreadCountConcurrency)
	for _, summary := range summaries {
		summary := summary
		g.Go(func() error {
			count, err := uc.messageRepo.CountUnreadInConversation(gctx, summary.ID, userID)
			if err != nil {
				logger.Error("ListConversations: unread count for conversation %s: %v", summary.ID, err)
				return nil
			}
			summary.UnreadCount = count
			return nil
		})
	}
	_ = g.Wait()

	SortConversations(summaries)
	return summaries
}

// GetOrCreateConversation returns the conversation for the triple, creating
// it on first contact. An existing conversation is returned unchanged.
func (uc *ConversationUseCase) GetOrCreateConversation(ctx context.Context, input CreateConversationInput) (*entity.Conversation, bool, error) {
	key := entity.ConversationKey{
		BuyerID:   strings.TrimSpace(input.BuyerID),
		SellerID:  strings.TrimSpace(input.SellerID),
		ProductID: strings.TrimSpace(input.ProductID),
	}
	switch {
	case key.BuyerID == "":
		return nil, false, errors.Validation("buyer_id", "is required")
	case key.SellerID == "":
		return nil, false, errors.Validation("seller_id", "is required")
	case key.ProductID == "":
		return nil, false, errors.Validation("product_id", "is required")
	case key.BuyerID == key.SellerID:
		return nil, false, errors.BadRequest("You cannot start a conversation about your own product", nil)
	}

	existing, err := uc.conversationRepo.FindByKey(ctx, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, errors.CodeNotFound) {
		logger.Error("GetOrCreateConversation: lookup failed: %v", err)
		return nil, false, err
	}

	now := uc.now().UTC()
	conversation := &entity.Conversation{
		BuyerID:       key.BuyerID,
		SellerID:      key.SellerID,
		ProductID:     key.ProductID,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	err = uc.conversationRepo.Create(ctx, conversation)
	if err == nil {
		logger.Info("Conversation %s created for product %s", conversation.ID, key.ProductID)
		return conversation, true, nil
	}
	if !errors.Is(err, errors.CodeConflict) {
		logger.Error("GetOrCreateConversation: create failed: %v", err)
		return nil, false, err
	}

	// Another request created the same triple between lookup and insert.
	existing, err = uc.conversationRepo.FindByKey(ctx, key)
	if err != nil {
		logger.Error("GetOrCreateConversation: re-fetch after conflict failed: %v", err)
		return nil, false, err
	}
	return existing, false, nil
}

// GetConversation loads a conversation on behalf of one of its participants.
func (uc *ConversationUseCase) GetConversation(ctx context.Context, conversationID, userID string) (*entity.Conversation, error) {
	conversation, err := uc.conversationRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.HasParticipant(userID) {
		return nil, errors.Forbidden("You are not a participant in this conversation", nil)
	}
	return conversation, nil
}

// SortConversations orders by last activity, newest first, keeping ties stable.
func SortConversations(summaries []*entity.ConversationSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
}
