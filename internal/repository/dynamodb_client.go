package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

const (
	pkPrefixKV = "KV#"
	skValue    = "VALUE#"

	// maxPartBytes keeps each item well under DynamoDB's 400 KB item limit,
	// leaving room for the key and bookkeeping attributes.
	maxPartBytes = 350 * 1024
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// DynamoStore keeps each key in a DynamoDB table with a PK/SK composite key,
// one item per part of the value. The namespace isolates independent front ends sharing
// one table.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	namespace string
}

// NewDynamoStore creates a Store backed by the given table.
func NewDynamoStore(api dynamodbAPI, tableName, namespace string) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		namespace = "default"
	}
	return &DynamoStore{api: api, tableName: tableName, namespace: namespace}, nil
}

// kvPK returns the partition key for a namespaced store key.
func (s *DynamoStore) kvPK(key string) string {
	return pkPrefixKV + s.namespace + "#" + key
}

func (s *DynamoStore) itemKey(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.kvPK(key)},
		"SK": &types.AttributeValueMemberS{Value: skValue},
	}
}

// partKey addresses continuation part i (i >= 1) of the value written as
// generation gen.
func (s *DynamoStore) partKey(key, gen string, i int) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: s.kvPK(key)},
		"SK": &types.AttributeValueMemberS{Value: skValue + gen + "#" + strconv.Itoa(i)},
	}
}

// head describes the stored value: the head item holds part 0, the part
// count and the generation its continuation parts were written under.
type head struct {
	value string
	parts int
	gen   string
}

// Get reads the value for key with consistent reads, joining its parts in
// order.
func (s *DynamoStore) Get(ctx context.Context, key string) (string, bool, error) {
	h, ok, err := s.readHead(ctx, key)
	if err != nil {
		return "", false, fmt.Errorf("repository: Get %q: %w", key, err)
	}
	if !ok {
		return "", false, nil
	}
	if h.parts == 1 {
		return h.value, true, nil
	}

	var b strings.Builder
	b.WriteString(h.value)
	for i := 1; i < h.parts; i++ {
		out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(s.tableName),
			Key:            s.partKey(key, h.gen, i),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return "", false, fmt.Errorf("repository: Get %q part %d: %w", key, i, err)
		}
		if out == nil || len(out.Item) == 0 {
			return "", false, fmt.Errorf("repository: Get %q: part %d of %d is missing", key, i, h.parts)
		}
		chunk, err := strAttr(out.Item, "value")
		if err != nil {
			return "", false, fmt.Errorf("repository: Get %q decode part %d: %w", key, i, err)
		}
		b.WriteString(chunk)
	}
	return b.String(), true, nil
}

// Set writes or replaces the value for key. A value larger than one item
// allows is split into parts under a fresh generation; the head item is
// written last, so a reader sees either the old value or the new one, and
// the previous generation's parts are deleted afterwards.
func (s *DynamoStore) Set(ctx context.Context, key, value string) error {
	prev, hadPrev, err := s.readHead(ctx, key)
	if err != nil {
		return fmt.Errorf("repository: Set %q: %w", key, err)
	}

	chunks := splitValue(value, maxPartBytes)
	gen := ""
	if len(chunks) > 1 {
		gen = newGeneration()
	}
	updatedAt := time.Now().UTC().Format(time.RFC3339)

	for i := 1; i < len(chunks); i++ {
		item := s.partKey(key, gen, i)
		item["value"] = &types.AttributeValueMemberS{Value: chunks[i]}
		item["updatedAt"] = &types.AttributeValueMemberS{Value: updatedAt}
		if err := s.put(ctx, item); err != nil {
			return fmt.Errorf("repository: Set %q part %d: %w", key, i, err)
		}
	}

	item := s.itemKey(key)
	item["key"] = &types.AttributeValueMemberS{Value: key}
	item["value"] = &types.AttributeValueMemberS{Value: chunks[0]}
	item["updatedAt"] = &types.AttributeValueMemberS{Value: updatedAt}
	if len(chunks) > 1 {
		item["parts"] = &types.AttributeValueMemberN{Value: strconv.Itoa(len(chunks))}
		item["gen"] = &types.AttributeValueMemberS{Value: gen}
	}
	if err := s.put(ctx, item); err != nil {
		return fmt.Errorf("repository: Set %q: %w", key, err)
	}

	if hadPrev {
		if err := s.deleteParts(ctx, key, prev); err != nil {
			return fmt.Errorf("repository: Set %q: %w", key, err)
		}
	}
	return nil
}

// Remove deletes key and its parts. Deleting an absent key is not an error.
func (s *DynamoStore) Remove(ctx context.Context, key string) error {
	prev, hadPrev, err := s.readHead(ctx, key)
	if err != nil {
		return fmt.Errorf("repository: Remove %q: %w", key, err)
	}
	_, err = s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.tableName),
		Key:       s.itemKey(key),
	})
	if err != nil {
		return fmt.Errorf("repository: Remove %q: %w", key, err)
	}
	if hadPrev {
		if err := s.deleteParts(ctx, key, prev); err != nil {
			return fmt.Errorf("repository: Remove %q: %w", key, err)
		}
	}
	return nil
}

func (s *DynamoStore) readHead(ctx context.Context, key string) (head, bool, error) {
	out, err := s.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.tableName),
		Key:            s.itemKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return head{}, false, err
	}
	if out == nil || len(out.Item) == 0 {
		return head{}, false, nil
	}
	value, err := strAttr(out.Item, "value")
	if err != nil {
		return head{}, false, fmt.Errorf("decode value: %w", err)
	}
	h := head{value: value, parts: 1}
	if _, ok := out.Item["parts"]; !ok {
		return h, true, nil
	}
	n, ok := out.Item["parts"].(*types.AttributeValueMemberN)
	if !ok {
		return head{}, false, errors.New("attribute \"parts\" is not a number")
	}
	h.parts, err = strconv.Atoi(n.Value)
	if err != nil || h.parts < 1 {
		return head{}, false, fmt.Errorf("invalid part count %q", n.Value)
	}
	if h.gen, err = strAttr(out.Item, "gen"); err != nil {
		return head{}, false, err
	}
	return h, true, nil
}

func (s *DynamoStore) put(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.tableName),
		Item:      item,
	})
	return err
}

// deleteParts removes the continuation parts of a replaced value.
func (s *DynamoStore) deleteParts(ctx context.Context, key string, h head) error {
	for i := 1; i < h.parts; i++ {
		_, err := s.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName: aws.String(s.tableName),
			Key:       s.partKey(key, h.gen, i),
		})
		if err != nil {
			return fmt.Errorf("delete part %d: %w", i, err)
		}
	}
	return nil
}

var newGeneration = func() string {
	return uuid.NewString()
}

// splitValue cuts value into chunks of at most size bytes without splitting a
// UTF-8 sequence. An empty value is one empty chunk.
func splitValue(value string, size int) []string {
	if len(value) <= size {
		return []string{value}
	}
	var chunks []string
	for len(value) > size {
		end := size
		for end > 0 && !utf8.RuneStart(value[end]) {
			end--
		}
		if end == 0 {
			end = size
		}
		chunks = append(chunks, value[:end])
		value = value[end:]
	}
	if value != "" {
		chunks = append(chunks, value)
	}
	return chunks
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}
