package repository

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// fakeItemLimit mirrors DynamoDB's 400 KB per-item ceiling.
const fakeItemLimit = 400 * 1024

// fakeDynamo is an in-memory table. It understands the key conditions,
// condition expressions and plain SET/REMOVE updates DynamoStore issues, and
// rejects items over fakeItemLimit the way DynamoDB does.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// pageSize > 0 splits Query and Scan results into pages of that size.
	pageSize int
	// errs fails every call of the named operation.
	errs map[string]error
	// unprocessed is how many requests the next BatchWriteItem hands back.
	unprocessed int
	// beforeTransact runs once, unlocked, ahead of the next TransactWriteItems.
	beforeTransact func()

	calls     map[string]int
	lastPut   *dynamodb.PutItemInput
	lastGet   *dynamodb.GetItemInput
	updates   []*dynamodb.UpdateItemInput
	transacts []*dynamodb.TransactWriteItemsInput
	batches   []*dynamodb.BatchWriteItemInput
	scans     []*dynamodb.ScanInput
	queries   []*dynamodb.QueryInput
}

var errItemTooLarge = errors.New("ValidationException: Item size has exceeded the maximum allowed size")

// begin records the call and returns the injected error. Callers hold f.mu.
func (f *fakeDynamo) begin(op string) error {
	if f.items == nil {
		f.items = make(map[string]map[string]types.AttributeValue)
	}
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[op]++
	return f.errs[op]
}

func (f *fakeDynamo) seed(items ...map[string]types.AttributeValue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.begin("seed")
	for _, item := range items {
		f.items[fakeKey(item)] = maps.Clone(item)
	}
}

func (f *fakeDynamo) item(pk, sk string) map[string]types.AttributeValue {
	f.mu.Lock()
	defer f.mu.Unlock()
	return maps.Clone(f.items[pk+"|"+sk])
}

// partition returns the sort keys stored under pk, in order.
func (f *fakeDynamo) partition(pk string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var sks []string
	for _, item := range f.items {
		if fakeS(item["PK"]) == pk {
			sks = append(sks, fakeS(item["SK"]))
		}
	}
	slices.Sort(sks)
	return sks
}

func (f *fakeDynamo) callCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastGet = in
	if err := f.begin("GetItem"); err != nil {
		return nil, err
	}
	return &dynamodb.GetItemOutput{Item: maps.Clone(f.items[fakeKey(in.Key)])}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastPut = in
	if err := f.begin("PutItem"); err != nil {
		return nil, err
	}
	key := fakeKey(in.Item)
	if !fakeCondition(f.items[key], in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	if fakeSize(in.Item) > fakeItemLimit {
		return nil, errItemTooLarge
	}
	f.items[key] = maps.Clone(in.Item)
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, in)
	if err := f.begin("UpdateItem"); err != nil {
		return nil, err
	}
	key := fakeKey(in.Key)
	existing := f.items[key]
	if !fakeCondition(existing, in.ConditionExpression, in.ExpressionAttributeNames, in.ExpressionAttributeValues) {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}
	}
	updated := fakeApply(existing, in.Key, aws.ToString(in.UpdateExpression), in.ExpressionAttributeNames, in.ExpressionAttributeValues)
	if fakeSize(updated) > fakeItemLimit {
		return nil, errItemTooLarge
	}
	f.items[key] = updated
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, in)
	if err := f.begin("Query"); err != nil {
		return nil, err
	}
	pk := fakeS(in.ExpressionAttributeValues[":pk"])
	upTo := ""
	if strings.Contains(aws.ToString(in.KeyConditionExpression), "SK <= :upTo") {
		upTo = fakeS(in.ExpressionAttributeValues[":upTo"])
	}
	var matched []map[string]types.AttributeValue
	for _, item := range f.sorted() {
		if fakeS(item["PK"]) != pk {
			continue
		}
		if upTo != "" && fakeS(item["SK"]) > upTo {
			continue
		}
		matched = append(matched, item)
	}
	page, last := f.page(matched, in.ExclusiveStartKey)
	return &dynamodb.QueryOutput{Items: page, LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans = append(f.scans, in)
	if err := f.begin("Scan"); err != nil {
		return nil, err
	}
	prefix := fakeS(in.ExpressionAttributeValues[":prefix"])
	var matched []map[string]types.AttributeValue
	for _, item := range f.sorted() {
		if strings.HasPrefix(fakeS(item["PK"]), prefix) {
			matched = append(matched, item)
		}
	}
	page, last := f.page(matched, in.ExclusiveStartKey)
	return &dynamodb.ScanOutput{Items: page, LastEvaluatedKey: last}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	hook := f.beforeTransact
	f.beforeTransact = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.transacts = append(f.transacts, in)
	if err := f.begin("TransactWriteItems"); err != nil {
		return nil, err
	}

	reasons := make([]types.CancellationReason, len(in.TransactItems))
	staged := make(map[string]map[string]types.AttributeValue, len(in.TransactItems))
	cancelled := false
	for i, action := range in.TransactItems {
		reasons[i] = types.CancellationReason{Code: aws.String("None")}
		switch {
		case action.Put != nil:
			key := fakeKey(action.Put.Item)
			if !fakeCondition(f.items[key], action.Put.ConditionExpression, action.Put.ExpressionAttributeNames, action.Put.ExpressionAttributeValues) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				cancelled = true
				continue
			}
			staged[key] = maps.Clone(action.Put.Item)
		case action.Update != nil:
			key := fakeKey(action.Update.Key)
			existing := f.items[key]
			if !fakeCondition(existing, action.Update.ConditionExpression, action.Update.ExpressionAttributeNames, action.Update.ExpressionAttributeValues) {
				reasons[i].Code = aws.String("ConditionalCheckFailed")
				cancelled = true
				continue
			}
			staged[key] = fakeApply(existing, action.Update.Key, aws.ToString(action.Update.UpdateExpression), action.Update.ExpressionAttributeNames, action.Update.ExpressionAttributeValues)
		default:
			panic("fakeDynamo: unsupported transact action")
		}
	}
	if cancelled {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled"),
			CancellationReasons: reasons,
		}
	}
	for key, item := range staged {
		if fakeSize(item) > fakeItemLimit {
			return nil, errItemTooLarge
		}
		f.items[key] = item
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, in)
	if err := f.begin("BatchWriteItem"); err != nil {
		return nil, err
	}
	out := &dynamodb.BatchWriteItemOutput{UnprocessedItems: map[string][]types.WriteRequest{}}
	for table, requests := range in.RequestItems {
		keep := max(len(requests)-f.unprocessed, 0)
		for _, req := range requests[:keep] {
			delete(f.items, fakeKey(req.DeleteRequest.Key))
		}
		if keep < len(requests) {
			out.UnprocessedItems[table] = requests[keep:]
		}
	}
	f.unprocessed = 0
	return out, nil
}

func (f *fakeDynamo) sorted() []map[string]types.AttributeValue {
	keys := slices.Sorted(maps.Keys(f.items))
	out := make([]map[string]types.AttributeValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, maps.Clone(f.items[k]))
	}
	return out
}

func (f *fakeDynamo) page(items []map[string]types.AttributeValue, start map[string]types.AttributeValue) ([]map[string]types.AttributeValue, map[string]types.AttributeValue) {
	if len(start) > 0 {
		startKey := fakeKey(start)
		idx := slices.IndexFunc(items, func(item map[string]types.AttributeValue) bool {
			return fakeKey(item) == startKey
		})
		items = items[idx+1:]
	}
	if f.pageSize <= 0 || len(items) <= f.pageSize {
		return items, nil
	}
	page := items[:f.pageSize]
	return page, itemKey(page[len(page)-1])
}

func fakeKey(item map[string]types.AttributeValue) string {
	return fakeS(item["PK"]) + "|" + fakeS(item["SK"])
}

func fakeS(v types.AttributeValue) string {
	switch av := v.(type) {
	case *types.AttributeValueMemberS:
		return av.Value
	case *types.AttributeValueMemberN:
		return av.Value
	default:
		return ""
	}
}

func fakeName(token string, names map[string]string) string {
	if n, ok := names[token]; ok {
		return n
	}
	return token
}

func fakeCondition(item map[string]types.AttributeValue, expr *string, names map[string]string, values map[string]types.AttributeValue) bool {
	if expr == nil {
		return true
	}
	for _, clause := range strings.Split(*expr, " AND ") {
		clause = strings.TrimSpace(clause)
		switch {
		case strings.HasPrefix(clause, "attribute_exists("):
			attr := fakeName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_exists("), ")"), names)
			if _, ok := item[attr]; !ok {
				return false
			}
		case strings.HasPrefix(clause, "attribute_not_exists("):
			attr := fakeName(strings.TrimSuffix(strings.TrimPrefix(clause, "attribute_not_exists("), ")"), names)
			if _, ok := item[attr]; ok {
				return false
			}
		default:
			lhs, rhs, ok := strings.Cut(clause, " = ")
			if !ok {
				panic("fakeDynamo: unsupported condition " + clause)
			}
			got, exists := item[fakeName(lhs, names)]
			if !exists || fakeS(got) != fakeS(values[rhs]) {
				return false
			}
		}
	}
	return true
}

func fakeApply(item, key map[string]types.AttributeValue, expr string, names map[string]string, values map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := maps.Clone(item)
	if out == nil {
		out = maps.Clone(key)
	}
	setPart, removePart, _ := strings.Cut(strings.TrimPrefix(expr, "SET "), " REMOVE ")
	for _, assignment := range strings.Split(setPart, ", ") {
		lhs, rhs, ok := strings.Cut(assignment, " = ")
		if !ok {
			panic("fakeDynamo: unsupported update " + assignment)
		}
		out[fakeName(lhs, names)] = values[rhs]
	}
	if removePart != "" {
		for _, attr := range strings.Split(removePart, ", ") {
			delete(out, fakeName(attr, names))
		}
	}
	return out
}

func fakeSize(item map[string]types.AttributeValue) int {
	n := 0
	for name, v := range item {
		n += len(name) + len(fakeS(v))
	}
	return n
}
