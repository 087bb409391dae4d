package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/EvaLM99/PictText/internal/models"
)

const defaultMessagePageSize = 100

// MongoStore implements Store on top of a MongoDB database.
type MongoStore struct {
	messages      *mongo.Collection
	conversations *mongo.Collection
	users         *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		messages:      db.Collection("messages"),
		conversations: db.Collection("conversations"),
		users:         db.Collection("users"),
	}
}

func objectID(id string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return oid, nil
}

func mapNotFound(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ErrNotFound
	}
	return err
}

func (s *MongoStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	oid, err := objectID(messageID)
	if err != nil {
		return nil, err
	}
	var msg models.Message
	if err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&msg); err != nil {
		return nil, mapNotFound(err)
	}
	return &msg, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	oid, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	var conv models.Conversation
	if err := s.conversations.FindOne(ctx, bson.M{"_id": oid}).Decode(&conv); err != nil {
		return nil, mapNotFound(err)
	}
	return &conv, nil
}

func (s *MongoStore) GetConversationParticipants(ctx context.Context, conversationID string) ([]string, error) {
	conv, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(conv.Participants))
	for _, p := range conv.Participants {
		ids = append(ids, p.Hex())
	}
	return ids, nil
}

func (s *MongoStore) GetFriendIDs(ctx context.Context, userID string) ([]string, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(user.Friends))
	for _, f := range user.Friends {
		ids = append(ids, f.Hex())
	}
	return ids, nil
}

func (s *MongoStore) GetUnseenMessages(ctx context.Context, conversationID, userID string) ([]*models.Message, error) {
	convID, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}

	// Own messages never need receipts; sending counts as having seen.
	filter := bson.M{
		"conversationId":     convID,
		"sender":             bson.M{"$ne": uid},
		"seenBy.user":        bson.M{"$ne": uid},
		"deletedForEveryone": false,
	}
	cursor, err := s.messages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// UpsertSeenReceipt records the receipt with at-most-one-per-(message, user)
// semantics that hold across concurrent server processes. An in-place update
// is tried first; if no receipt exists yet, a push guarded by the absence of
// the user's receipt inserts one. A concurrent insert between the two steps
// makes the guarded push match nothing, in which case the in-place update is
// retried to land the latest timestamp.
func (s *MongoStore) UpsertSeenReceipt(ctx context.Context, messageID, userID string, seenAt time.Time) error {
	mid, err := objectID(messageID)
	if err != nil {
		return err
	}
	uid, err := objectID(userID)
	if err != nil {
		return err
	}

	setExisting := func() (bool, error) {
		res, err := s.messages.UpdateOne(ctx,
			bson.M{"_id": mid, "seenBy.user": uid},
			bson.M{"$set": bson.M{"seenBy.$.seenAt": seenAt}},
		)
		if err != nil {
			return false, err
		}
		return res.MatchedCount > 0, nil
	}

	if ok, err := setExisting(); err != nil || ok {
		return err
	}

	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": mid, "seenBy.user": bson.M{"$ne": uid}},
		bson.M{"$push": bson.M{"seenBy": models.SeenReceipt{UserID: uid, SeenAt: seenAt}}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if ok, err := setExisting(); err != nil || ok {
		return err
	}
	return ErrNotFound
}

func (s *MongoStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	now := time.Now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.SeenBy == nil {
		msg.SeenBy = []models.SeenReceipt{}
	}
	res, err := s.messages.InsertOne(ctx, msg)
	if err != nil {
		return err
	}
	msg.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoStore) findOneAndUpdateMessage(ctx context.Context, id primitive.ObjectID, update bson.M) (*models.Message, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var msg models.Message
	if err := s.messages.FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&msg); err != nil {
		return nil, mapNotFound(err)
	}
	return &msg, nil
}

func (s *MongoStore) UpdateMessageText(ctx context.Context, messageID, text string, editedAt time.Time) (*models.Message, error) {
	oid, err := objectID(messageID)
	if err != nil {
		return nil, err
	}
	return s.findOneAndUpdateMessage(ctx, oid, bson.M{
		"$set": bson.M{"text": text, "editedAt": editedAt, "updatedAt": editedAt},
	})
}

func (s *MongoStore) MarkMessageDeletedFor(ctx context.Context, messageID, userID string) (*models.Message, error) {
	oid, err := objectID(messageID)
	if err != nil {
		return nil, err
	}
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	return s.findOneAndUpdateMessage(ctx, oid, bson.M{
		"$addToSet": bson.M{"deletedFor": uid},
		"$set":      bson.M{"updatedAt": time.Now()},
	})
}

func (s *MongoStore) MarkMessageDeletedForEveryone(ctx context.Context, messageID string) (*models.Message, error) {
	oid, err := objectID(messageID)
	if err != nil {
		return nil, err
	}
	return s.findOneAndUpdateMessage(ctx, oid, bson.M{
		"$set": bson.M{"deletedForEveryone": true, "updatedAt": time.Now()},
	})
}

func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, q MessageQuery) ([]*models.Message, error) {
	convID, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"conversationId": convID}
	if q.Before != nil {
		filter["createdAt"] = bson.M{"$lt": *q.Before}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultMessagePageSize
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}}).
		SetLimit(limit)

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var msgs []*models.Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *MongoStore) LatestVisibleMessage(ctx context.Context, conversationID string) (*models.Message, error) {
	convID, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"conversationId": convID, "deletedForEveryone": false}
	opts := options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: -1}})

	var msg models.Message
	if err := s.messages.FindOne(ctx, filter, opts).Decode(&msg); err != nil {
		return nil, mapNotFound(err)
	}
	return &msg, nil
}

func (s *MongoStore) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	now := time.Now()
	conv.CreatedAt = now
	conv.UpdatedAt = now
	if conv.Color == "" {
		conv.Color = models.DefaultConversationColor
	}
	res, err := s.conversations.InsertOne(ctx, conv)
	if err != nil {
		return err
	}
	conv.ID = res.InsertedID.(primitive.ObjectID)
	return nil
}

func (s *MongoStore) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	a, err := objectID(userA)
	if err != nil {
		return nil, err
	}
	b, err := objectID(userB)
	if err != nil {
		return nil, err
	}
	filter := bson.M{"participants": bson.M{
		"$all":  []primitive.ObjectID{a, b},
		"$size": 2,
	}}
	var conv models.Conversation
	if err := s.conversations.FindOne(ctx, filter).Decode(&conv); err != nil {
		return nil, mapNotFound(err)
	}
	return &conv, nil
}

func (s *MongoStore) SetConversationLastMessage(ctx context.Context, conversationID string, messageID *string) error {
	convID, err := objectID(conversationID)
	if err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{"updatedAt": time.Now()}}
	if messageID == nil {
		update["$unset"] = bson.M{"lastMessage": ""}
	} else {
		mid, err := objectID(*messageID)
		if err != nil {
			return err
		}
		update["$set"].(bson.M)["lastMessage"] = mid
	}
	res, err := s.conversations.UpdateOne(ctx, bson.M{"_id": convID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) findOneAndUpdateConversation(ctx context.Context, id primitive.ObjectID, set bson.M) (*models.Conversation, error) {
	set["updatedAt"] = time.Now()
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var conv models.Conversation
	if err := s.conversations.FindOneAndUpdate(ctx, bson.M{"_id": id}, bson.M{"$set": set}, opts).Decode(&conv); err != nil {
		return nil, mapNotFound(err)
	}
	return &conv, nil
}

func (s *MongoStore) SetConversationName(ctx context.Context, conversationID, name string) (*models.Conversation, error) {
	oid, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	return s.findOneAndUpdateConversation(ctx, oid, bson.M{"name": name})
}

func (s *MongoStore) SetConversationColor(ctx context.Context, conversationID, color string) (*models.Conversation, error) {
	oid, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	return s.findOneAndUpdateConversation(ctx, oid, bson.M{"color": color})
}

func (s *MongoStore) SetConversationPicture(ctx context.Context, conversationID, picture string) (*models.Conversation, error) {
	oid, err := objectID(conversationID)
	if err != nil {
		return nil, err
	}
	return s.findOneAndUpdateConversation(ctx, oid, bson.M{"groupPicture": picture})
}

func (s *MongoStore) ListConversations(ctx context.Context, userID string) ([]*models.Conversation, error) {
	uid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"participants": uid,
		"deletedFor":   bson.M{"$ne": uid},
	}
	opts := options.Find().SetSort(bson.D{{Key: "updatedAt", Value: -1}})

	cursor, err := s.conversations.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var convs []*models.Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// DeleteConversationFor soft-deletes the conversation and its messages for a
// single user. This is a store-level batch, not part of the live-event path.
func (s *MongoStore) DeleteConversationFor(ctx context.Context, conversationID, userID string) error {
	convID, err := objectID(conversationID)
	if err != nil {
		return err
	}
	uid, err := objectID(userID)
	if err != nil {
		return err
	}
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": convID},
		bson.M{"$addToSet": bson.M{"deletedFor": uid}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	_, err = s.messages.UpdateMany(ctx,
		bson.M{"conversationId": convID},
		bson.M{"$addToSet": bson.M{"deletedFor": uid}},
	)
	return err
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&user); err != nil {
		return nil, mapNotFound(err)
	}
	return &user, nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	oid, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": oid}).Decode(&user); err != nil {
		return nil, mapNotFound(err)
	}
	return &user, nil
}
