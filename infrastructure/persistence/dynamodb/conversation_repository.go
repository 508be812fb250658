package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"scribe-backend/application/ports"
	"scribe-backend/domain/core/entities"
	"scribe-backend/domain/core/valueobjects"
	pkgerrors "scribe-backend/pkg/errors"
)

// ConversationRepository implements ports.ConversationRepository on a
// single-table DynamoDB layout. Every write after Create is a field-level
// UpdateItem, so concurrent job completions never clobber each other's
// fields.
//
// Layout:
//
//	PK=CONV#<id> SK=META        conversation record with segments and outcomes
//	GSI1PK=USER#<uid> GSI1SK=CONV#<startedAt>#<id>  user listing, newest first
type ConversationRepository struct {
	client    *dynamodb.Client
	tableName string
	indexName string
	logger    *zap.Logger
}

// NewConversationRepository creates a new ConversationRepository
func NewConversationRepository(client *dynamodb.Client, tableName, indexName string, logger *zap.Logger) ports.ConversationRepository {
	return &ConversationRepository{
		client:    client,
		tableName: tableName,
		indexName: indexName,
		logger:    logger,
	}
}

// segmentItem is the DynamoDB shape of one transcript segment
type segmentItem struct {
	Text         string  `dynamodbav:"Text"`
	Speaker      string  `dynamodbav:"Speaker,omitempty"`
	SpeakerIndex int     `dynamodbav:"SpeakerIndex"`
	IsUser       bool    `dynamodbav:"IsUser"`
	Start        float64 `dynamodbav:"Start"`
	End          float64 `dynamodbav:"End"`
	STTSource    string  `dynamodbav:"STTSource,omitempty"`
}

// summaryItem is the DynamoDB shape of the structured summary field
type summaryItem struct {
	Title        string   `dynamodbav:"Title"`
	Overview     string   `dynamodbav:"Overview"`
	Category     string   `dynamodbav:"Category,omitempty"`
	Emoji        string   `dynamodbav:"Emoji,omitempty"`
	KeyTakeaways []string `dynamodbav:"KeyTakeaways,omitempty"`
	ActionItems  []string `dynamodbav:"ActionItems,omitempty"`
}

// outcomeItem is the DynamoDB shape of one extraction outcome
type outcomeItem struct {
	Kind        string `dynamodbav:"Kind"`
	Status      string `dynamodbav:"Status"`
	Error       string `dynamodbav:"Error,omitempty"`
	ItemCount   int    `dynamodbav:"ItemCount"`
	CompletedAt string `dynamodbav:"CompletedAt"`
}

// conversationItem represents the DynamoDB item structure for a conversation
type conversationItem struct {
	PK             string                 `dynamodbav:"PK"`
	SK             string                 `dynamodbav:"SK"`
	GSI1PK         string                 `dynamodbav:"GSI1PK"`
	GSI1SK         string                 `dynamodbav:"GSI1SK"`
	EntityType     string                 `dynamodbav:"EntityType"`
	ConversationID string                 `dynamodbav:"ConversationID"`
	UserID         string                 `dynamodbav:"UserID"`
	Status         string                 `dynamodbav:"Status"`
	Source         string                 `dynamodbav:"Source,omitempty"`
	Segments       []segmentItem          `dynamodbav:"Segments"`
	Summary        *summaryItem           `dynamodbav:"Summary,omitempty"`
	Outcomes       map[string]outcomeItem `dynamodbav:"Outcomes"`
	StartedAt      string                 `dynamodbav:"StartedAt"`
	FinishedAt     string                 `dynamodbav:"FinishedAt,omitempty"`
}

const conversationEntityType = "CONVERSATION"

// Create persists a new conversation record
func (r *ConversationRepository) Create(ctx context.Context, conversation *entities.Conversation) error {
	item := conversationItem{
		PK:             conversationPK(conversation.ID()),
		SK:             "META",
		GSI1PK:         fmt.Sprintf("USER#%s", conversation.UserID()),
		GSI1SK:         fmt.Sprintf("CONV#%s#%s", conversation.StartedAt().UTC().Format(time.RFC3339Nano), conversation.ID().String()),
		EntityType:     conversationEntityType,
		ConversationID: conversation.ID().String(),
		UserID:         conversation.UserID(),
		Status:         string(conversation.Status()),
		Source:         conversation.Source(),
		Segments:       segmentsToItems(conversation.Segments()),
		Outcomes:       map[string]outcomeItem{},
		StartedAt:      conversation.StartedAt().UTC().Format(time.RFC3339Nano),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.NewDatabaseError("marshal conversation", err)
	}

	input := &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(PK)"),
	}

	if _, err := r.client.PutItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewConflictError("conversation already exists")
		}
		return pkgerrors.NewDatabaseError("create conversation", err)
	}

	r.logger.Debug("Created conversation record",
		zap.String("conversationID", conversation.ID().String()),
		zap.String("userID", conversation.UserID()),
	)
	return nil
}

// GetByID loads a conversation with its ordered segments and outcomes
func (r *ConversationRepository) GetByID(ctx context.Context, id valueobjects.ConversationID) (*entities.Conversation, error) {
	input := &dynamodb.GetItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
	}

	result, err := r.client.GetItem(ctx, input)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("get conversation", err)
	}
	if result.Item == nil {
		return nil, pkgerrors.NewNotFoundError("conversation")
	}

	var item conversationItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("unmarshal conversation", err)
	}

	return itemToConversation(item)
}

// ListByUser returns the user's conversations, newest first
func (r *ConversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*entities.Conversation, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(fmt.Sprintf("USER#%s", userID))).
		And(expression.Key("GSI1SK").BeginsWith("CONV#"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("build list expression", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(r.indexName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(false),
		Limit:                     aws.Int32(int32(limit)),
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list conversations", err)
	}

	conversations := make([]*entities.Conversation, 0, len(result.Items))
	for _, raw := range result.Items {
		var item conversationItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			r.logger.Warn("Skipping unreadable conversation item", zap.Error(err))
			continue
		}
		conversation, err := itemToConversation(item)
		if err != nil {
			r.logger.Warn("Skipping invalid conversation item",
				zap.String("conversationID", item.ConversationID),
				zap.Error(err),
			)
			continue
		}
		conversations = append(conversations, conversation)
	}

	return conversations, nil
}

// AppendSegments appends segments to the persisted transcript in order
func (r *ConversationRepository) AppendSegments(ctx context.Context, id valueobjects.ConversationID, segments []valueobjects.TranscriptSegment) error {
	if len(segments) == 0 {
		return nil
	}

	items := segmentsToItems(segments)
	segs, err := attributevalue.Marshal(items)
	if err != nil {
		return pkgerrors.NewDatabaseError("marshal segments", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:    aws.String("SET Segments = list_append(if_not_exists(Segments, :empty), :segs)"),
		ConditionExpression: aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":segs":  segs,
			":empty": &types.AttributeValueMemberL{Value: []types.AttributeValue{}},
		},
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewNotFoundError("conversation")
		}
		return pkgerrors.NewDatabaseError("append segments", err)
	}

	return nil
}

// UpdateStatus performs a conditional status transition. The condition on
// the current status is what makes racing transitions fire exactly once:
// the loser gets a conflict.
func (r *ConversationRepository) UpdateStatus(ctx context.Context, id valueobjects.ConversationID, from, to entities.ConversationStatus, finishedAt *time.Time) error {
	update := "SET #status = :to"
	values := map[string]types.AttributeValue{
		":from": &types.AttributeValueMemberS{Value: string(from)},
		":to":   &types.AttributeValueMemberS{Value: string(to)},
	}
	if finishedAt != nil {
		update += ", FinishedAt = :finishedAt"
		values[":finishedAt"] = &types.AttributeValueMemberS{Value: finishedAt.UTC().Format(time.RFC3339Nano)}
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:          aws.String(update),
		ConditionExpression:       aws.String("attribute_exists(PK) AND #status = :from"),
		ExpressionAttributeNames:  map[string]string{"#status": "Status"},
		ExpressionAttributeValues: values,
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewConflictError(fmt.Sprintf("conversation is not in status %s", from))
		}
		return pkgerrors.NewDatabaseError("update conversation status", err)
	}

	r.logger.Debug("Conversation status updated",
		zap.String("conversationID", id.String()),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
	)
	return nil
}

// SetSummary merges the structured summary field
func (r *ConversationRepository) SetSummary(ctx context.Context, id valueobjects.ConversationID, summary valueobjects.StructuredSummary) error {
	av, err := attributevalue.Marshal(summaryItem{
		Title:        summary.Title,
		Overview:     summary.Overview,
		Category:     summary.Category,
		Emoji:        summary.Emoji,
		KeyTakeaways: summary.KeyTakeaways,
		ActionItems:  summary.ActionItems,
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("marshal summary", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:          aws.String("SET Summary = :summary"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":summary": av},
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewNotFoundError("conversation")
		}
		return pkgerrors.NewDatabaseError("set summary", err)
	}

	return nil
}

// PutExtractionOutcome merges one kind's terminal outcome field
func (r *ConversationRepository) PutExtractionOutcome(ctx context.Context, id valueobjects.ConversationID, outcome valueobjects.ExtractionOutcome) error {
	av, err := attributevalue.Marshal(outcomeItem{
		Kind:        string(outcome.Kind),
		Status:      string(outcome.Status),
		Error:       outcome.Error,
		ItemCount:   outcome.ItemCount,
		CompletedAt: outcome.CompletedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return pkgerrors.NewDatabaseError("marshal outcome", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: conversationPK(id)},
			"SK": &types.AttributeValueMemberS{Value: "META"},
		},
		UpdateExpression:          aws.String("SET Outcomes.#kind = :outcome"),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  map[string]string{"#kind": string(outcome.Kind)},
		ExpressionAttributeValues: map[string]types.AttributeValue{":outcome": av},
	}

	if _, err := r.client.UpdateItem(ctx, input); err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return pkgerrors.NewNotFoundError("conversation")
		}
		return pkgerrors.NewDatabaseError("put extraction outcome", err)
	}

	return nil
}

func conversationPK(id valueobjects.ConversationID) string {
	return fmt.Sprintf("CONV#%s", id.String())
}

func segmentsToItems(segments []valueobjects.TranscriptSegment) []segmentItem {
	items := make([]segmentItem, len(segments))
	for i, seg := range segments {
		items[i] = segmentItem{
			Text:         seg.Text(),
			Speaker:      seg.Speaker(),
			SpeakerIndex: seg.SpeakerIndex(),
			IsUser:       seg.IsUser(),
			Start:        seg.Start(),
			End:          seg.End(),
			STTSource:    seg.STTSource(),
		}
	}
	return items
}

func itemToConversation(item conversationItem) (*entities.Conversation, error) {
	id, err := valueobjects.ParseConversationID(item.ConversationID)
	if err != nil {
		return nil, err
	}

	segments := make([]valueobjects.TranscriptSegment, 0, len(item.Segments))
	for _, s := range item.Segments {
		seg, err := valueobjects.NewTranscriptSegment(s.Text, s.Speaker, s.SpeakerIndex, s.IsUser, s.Start, s.End, s.STTSource)
		if err != nil {
			return nil, err
		}
		segments = append(segments, seg)
	}

	startedAt, err := time.Parse(time.RFC3339Nano, item.StartedAt)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("parse StartedAt", err)
	}

	var finishedAt *time.Time
	if item.FinishedAt != "" {
		t, err := time.Parse(time.RFC3339Nano, item.FinishedAt)
		if err != nil {
			return nil, pkgerrors.NewDatabaseError("parse FinishedAt", err)
		}
		finishedAt = &t
	}

	var summary *valueobjects.StructuredSummary
	if item.Summary != nil {
		summary = &valueobjects.StructuredSummary{
			Title:        item.Summary.Title,
			Overview:     item.Summary.Overview,
			Category:     item.Summary.Category,
			Emoji:        item.Summary.Emoji,
			KeyTakeaways: item.Summary.KeyTakeaways,
			ActionItems:  item.Summary.ActionItems,
		}
	}

	outcomes := make(map[valueobjects.ExtractionKind]valueobjects.ExtractionOutcome, len(item.Outcomes))
	for name, o := range item.Outcomes {
		kind, err := valueobjects.ParseExtractionKind(name)
		if err != nil {
			continue
		}
		completedAt, _ := time.Parse(time.RFC3339Nano, o.CompletedAt)
		outcomes[kind] = valueobjects.ExtractionOutcome{
			Kind:        kind,
			Status:      valueobjects.OutcomeStatus(o.Status),
			Error:       o.Error,
			ItemCount:   o.ItemCount,
			CompletedAt: completedAt,
		}
	}

	return entities.ReconstructConversation(
		id,
		item.UserID,
		entities.ConversationStatus(item.Status),
		segments,
		startedAt,
		finishedAt,
		summary,
		outcomes,
		item.Source,
	)
}
