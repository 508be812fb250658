package dynamodb

import (
	"context"
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

// MemoryRepository implements ports.MemoryRepository. Memories live under
// their source conversation's partition:
//
//	PK=CONV#<conversationID> SK=MEM#<memoryID>
type MemoryRepository struct {
	client    *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewMemoryRepository creates a new MemoryRepository
func NewMemoryRepository(client *dynamodb.Client, tableName string, logger *zap.Logger) ports.MemoryRepository {
	return &MemoryRepository{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// memoryItem represents the DynamoDB item structure for a memory
type memoryItem struct {
	PK             string   `dynamodbav:"PK"`
	SK             string   `dynamodbav:"SK"`
	EntityType     string   `dynamodbav:"EntityType"`
	MemoryID       string   `dynamodbav:"MemoryID"`
	UserID         string   `dynamodbav:"UserID"`
	ConversationID string   `dynamodbav:"ConversationID"`
	Content        string   `dynamodbav:"Content"`
	Category       string   `dynamodbav:"Category"`
	Tags           []string `dynamodbav:"Tags,omitempty"`
	Visibility     string   `dynamodbav:"Visibility"`
	CreatedAt      string   `dynamodbav:"CreatedAt"`
}

const memoryEntityType = "MEMORY"

// batchWriteLimit is DynamoDB's BatchWriteItem cap
const batchWriteLimit = 25

// CreateBatch persists extracted memories linked to their conversation
func (r *MemoryRepository) CreateBatch(ctx context.Context, memories []*entities.Memory) error {
	if len(memories) == 0 {
		return nil
	}

	requests := make([]types.WriteRequest, 0, len(memories))
	for _, m := range memories {
		item := memoryItem{
			PK:             conversationPK(m.ConversationID()),
			SK:             fmt.Sprintf("MEM#%s", m.ID()),
			EntityType:     memoryEntityType,
			MemoryID:       m.ID(),
			UserID:         m.UserID(),
			ConversationID: m.ConversationID().String(),
			Content:        m.Content(),
			Category:       string(m.Category()),
			Tags:           m.Tags(),
			Visibility:     string(m.Visibility()),
			CreatedAt:      m.CreatedAt().UTC().Format(time.RFC3339Nano),
		}

		av, err := attributevalue.MarshalMap(item)
		if err != nil {
			return pkgerrors.NewDatabaseError("marshal memory", err)
		}
		requests = append(requests, types.WriteRequest{
			PutRequest: &types.PutRequest{Item: av},
		})
	}

	for start := 0; start < len(requests); start += batchWriteLimit {
		end := start + batchWriteLimit
		if end > len(requests) {
			end = len(requests)
		}

		batch := requests[start:end]
		for len(batch) > 0 {
			out, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
				RequestItems: map[string][]types.WriteRequest{r.tableName: batch},
			})
			if err != nil {
				return pkgerrors.NewDatabaseError("batch write memories", err)
			}
			batch = out.UnprocessedItems[r.tableName]
		}
	}

	r.logger.Debug("Persisted extracted memories",
		zap.String("conversationID", memories[0].ConversationID().String()),
		zap.Int("count", len(memories)),
	)
	return nil
}

// ListByConversation returns the memories extracted from a conversation
func (r *MemoryRepository) ListByConversation(ctx context.Context, conversationID valueobjects.ConversationID) ([]*entities.Memory, error) {
	keyCond := expression.Key("PK").Equal(expression.Value(conversationPK(conversationID))).
		And(expression.Key("SK").BeginsWith("MEM#"))

	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("build list expression", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}

	result, err := r.client.Query(ctx, input)
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("list memories", err)
	}

	memories := make([]*entities.Memory, 0, len(result.Items))
	for _, raw := range result.Items {
		var item memoryItem
		if err := attributevalue.UnmarshalMap(raw, &item); err != nil {
			r.logger.Warn("Skipping unreadable memory item", zap.Error(err))
			continue
		}

		createdAt, _ := time.Parse(time.RFC3339Nano, item.CreatedAt)
		memories = append(memories, entities.ReconstructMemory(
			item.MemoryID,
			item.UserID,
			conversationID,
			item.Content,
			entities.MemoryCategory(item.Category),
			item.Tags,
			entities.MemoryVisibility(item.Visibility),
			createdAt,
		))
	}

	return memories, nil
}
