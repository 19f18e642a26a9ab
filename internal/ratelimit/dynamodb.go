package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/mmeshcher/filedrop/internal/model"
)

// DynamoAPI описывает методы клиента DynamoDB, используемые DynamoStore.
type DynamoAPI interface {
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// rateItem хранит окно в таблице DynamoDB. expires_at используется как TTL-атрибут.
type rateItem struct {
	LimitKey     string `dynamodbav:"limit_key"`
	WindowStart  int64  `dynamodbav:"window_start"`
	RequestCount int    `dynamodbav:"request_count"`
	ExpiresAt    int64  `dynamodbav:"expires_at"`
}

// DynamoStore хранит счётчики окон в DynamoDB.
// Устаревшие окна удаляются TTL таблицы, отдельная очистка не нужна.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

// NewDynamoStore создаёт хранилище счётчиков в указанной таблице.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// HitRateLimit увеличивает счётчик текущего окна или открывает новое окно.
func (s *DynamoStore) HitRateLimit(ctx context.Context, identifier, endpoint string, window time.Duration, now time.Time) (model.RateWindow, error) {
	key := identifier + "#" + endpoint
	cutoff := now.Add(-window).UnixMilli()

	for attempt := 0; attempt < 2; attempt++ {
		w, err := s.increment(ctx, key, cutoff)
		if err == nil {
			return w, nil
		}
		if !isConditionFailed(err) {
			return model.RateWindow{}, err
		}

		w, err = s.reset(ctx, key, cutoff, now, window)
		if err == nil {
			return w, nil
		}
		if !isConditionFailed(err) {
			return model.RateWindow{}, err
		}
		// окно уже открыл параллельный запрос, повторяем инкремент
	}

	return model.RateWindow{}, errors.New("rate limit window contention")
}

func (s *DynamoStore) increment(ctx context.Context, key string, cutoff int64) (model.RateWindow, error) {
	out, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"limit_key": &types.AttributeValueMemberS{Value: key},
		},
		UpdateExpression:    aws.String("ADD request_count :one"),
		ConditionExpression: aws.String("window_start >= :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":one":    &types.AttributeValueMemberN{Value: "1"},
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
		},
		ReturnValues: types.ReturnValueAllNew,
	})
	if err != nil {
		return model.RateWindow{}, err
	}

	var item rateItem
	if err := attributevalue.UnmarshalMap(out.Attributes, &item); err != nil {
		return model.RateWindow{}, fmt.Errorf("unmarshal rate item: %w", err)
	}

	return model.RateWindow{
		Count: item.RequestCount,
		Start: time.UnixMilli(item.WindowStart),
	}, nil
}

func (s *DynamoStore) reset(ctx context.Context, key string, cutoff int64, now time.Time, window time.Duration) (model.RateWindow, error) {
	item := rateItem{
		LimitKey:     key,
		WindowStart:  now.UnixMilli(),
		RequestCount: 1,
		ExpiresAt:    now.Add(2 * window).Unix(),
	}

	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return model.RateWindow{}, fmt.Errorf("marshal rate item: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(limit_key) OR window_start < :cutoff"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff, 10)},
		},
	})
	if err != nil {
		return model.RateWindow{}, err
	}

	return model.RateWindow{Count: 1, Start: time.UnixMilli(item.WindowStart)}, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
