package repository

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut       *dynamodb.GetItemOutput
	getErr       error
	putErr       error
	deleteErr    error
	lastGetInput *dynamodb.GetItemInput
	lastPutInput *dynamodb.PutItemInput
	lastDeleteIn *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteIn = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "test-table", "alice")
	require.NoError(t, err)
	return s
}

func pkOf(t *testing.T, key map[string]types.AttributeValue) string {
	t.Helper()
	v, ok := key["PK"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	return v.Value
}

func TestNewDynamoStore_Validates(t *testing.T) {
	_, err := NewDynamoStore(nil, "t", "")
	require.Error(t, err)

	_, err = NewDynamoStore(&fakeDynamo{}, " ", "")
	require.Error(t, err)

	s, err := NewDynamoStore(&fakeDynamo{}, "t", " ")
	require.NoError(t, err)
	require.Equal(t, "default", s.namespace)
}

func TestDynamoGet_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":    &types.AttributeValueMemberS{Value: "KV#alice#chats"},
		"SK":    &types.AttributeValueMemberS{Value: skValue},
		"value": &types.AttributeValueMemberS{Value: "[]"},
	}}}
	s := mustNewDynamoStore(t, db)

	v, ok, err := s.Get(context.Background(), "chats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "[]", v)
	require.Equal(t, "KV#alice#chats", pkOf(t, db.lastGetInput.Key))
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestDynamoGet_MissingItem(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, ok, err := s.Get(context.Background(), "chats")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoGet_Errors(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getErr: errors.New("boom")})
	_, _, err := s.Get(context.Background(), "chats")
	require.ErrorContains(t, err, "boom")

	s = mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"value": &types.AttributeValueMemberN{Value: "1"},
	}}})
	_, _, err = s.Get(context.Background(), "chats")
	require.ErrorContains(t, err, "decode value")
}

func TestDynamoSet_WritesValue(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)

	require.NoError(t, s.Set(context.Background(), "active", "123"))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
	require.Equal(t, "KV#alice#active", pkOf(t, db.lastPutInput.Item))
	v, ok := db.lastPutInput.Item["value"].(*types.AttributeValueMemberS)
	require.True(t, ok)
	require.Equal(t, "123", v.Value)
}

func TestDynamoSet_Error(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{putErr: errors.New("throttled")})
	err := s.Set(context.Background(), "active", "123")
	require.ErrorContains(t, err, "Set")
	require.ErrorContains(t, err, "throttled")
}

func TestDynamoRemove(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	require.NoError(t, s.Remove(context.Background(), "active"))
	require.Equal(t, "KV#alice#active", pkOf(t, db.lastDeleteIn.Key))

	s = mustNewDynamoStore(t, &fakeDynamo{deleteErr: errors.New("boom")})
	require.Error(t, s.Remove(context.Background(), "active"))
}

// tableDynamo is an in-memory table that rejects items over DynamoDB's
// 400 KB item size limit.
type tableDynamo struct {
	items map[string]map[string]types.AttributeValue
	// failHead rejects writes to head items, leaving continuation parts in place.
	failHead bool
}

const dynamoItemLimit = 400 * 1024

func newTableDynamo() *tableDynamo {
	return &tableDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func tableKey(key map[string]types.AttributeValue) string {
	pk := key["PK"].(*types.AttributeValueMemberS).Value
	sk := key["SK"].(*types.AttributeValueMemberS).Value
	return pk + "|" + sk
}

func itemSize(item map[string]types.AttributeValue) int {
	n := 0
	for name, v := range item {
		n += len(name)
		switch av := v.(type) {
		case *types.AttributeValueMemberS:
			n += len(av.Value)
		case *types.AttributeValueMemberN:
			n += len(av.Value)
		}
	}
	return n
}

func (f *tableDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return &dynamodb.GetItemOutput{Item: f.items[tableKey(in.Key)]}, nil
}

func (f *tableDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if f.failHead && in.Item["SK"].(*types.AttributeValueMemberS).Value == skValue {
		return nil, errors.New("RequestLimitExceeded")
	}
	if itemSize(in.Item) > dynamoItemLimit {
		return nil, errors.New("ValidationException: Item size has exceeded the maximum allowed size")
	}
	f.items[tableKey(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *tableDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	delete(f.items, tableKey(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestDynamoStore_Conformance(t *testing.T) {
	s, err := NewDynamoStore(newTableDynamo(), "test-table", "alice")
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestDynamoStore_ValuesLargerThanOneItem(t *testing.T) {
	ctx := context.Background()
	db := newTableDynamo()
	s, err := NewDynamoStore(db, "test-table", "alice")
	require.NoError(t, err)

	big := strings.Repeat("héllo wörld ", 90_000) // ~1.2 MB, multi-byte runes
	require.NoError(t, s.Set(ctx, "chats", big))
	require.Greater(t, len(db.items), 1)

	got, ok, err := s.Get(ctx, "chats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, big, got)

	require.NoError(t, s.Set(ctx, "chats", "[]"))
	require.Len(t, db.items, 1)
	got, _, err = s.Get(ctx, "chats")
	require.NoError(t, err)
	require.Equal(t, "[]", got)

	require.NoError(t, s.Set(ctx, "chats", big))
	require.NoError(t, s.Remove(ctx, "chats"))
	require.Empty(t, db.items)
}

func TestDynamoGet_MissingPart(t *testing.T) {
	ctx := context.Background()
	db := newTableDynamo()
	s, err := NewDynamoStore(db, "test-table", "alice")
	require.NoError(t, err)

	require.NoError(t, s.Set(ctx, "chats", strings.Repeat("x", 2*maxPartBytes+1)))
	h, ok, err := s.readHead(ctx, "chats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, h.parts)
	delete(db.items, tableKey(s.partKey("chats", h.gen, 1)))

	_, _, err = s.Get(ctx, "chats")
	require.ErrorContains(t, err, "missing")
}

func TestDynamoSet_InterruptedWriteKeepsPreviousValue(t *testing.T) {
	ctx := context.Background()
	db := newTableDynamo()
	s, err := NewDynamoStore(db, "test-table", "alice")
	require.NoError(t, err)

	old := strings.Repeat("a", maxPartBytes+10)
	require.NoError(t, s.Set(ctx, "chats", old))

	db.failHead = true
	err = s.Set(ctx, "chats", strings.Repeat("b", 3*maxPartBytes))
	require.Error(t, err)

	got, ok, err := s.Get(ctx, "chats")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, old, got)
}

func TestSplitValue_KeepsRunesWhole(t *testing.T) {
	chunks := splitValue("aé", 2)
	require.Equal(t, []string{"a", "é"}, chunks)

	require.Equal(t, []string{""}, splitValue("", 4))
	require.Equal(t, []string{"abcd", "ef"}, splitValue("abcdef", 4))
}
