package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"english-tutor/internal/domain"
)

const (
	pkPrefixSession = "SESSION#"
	skMeta          = "META"
	skPrefixMessage = "MSG#"

	maxAppendAttempts = 5
	maxTransactItems  = 100
	batchWriteLimit   = 25
	maxBatchAttempts  = 5
)

// dynamodbAPI is the minimal DynamoDB interface required by DynamoStore.
// Defined here for testability.
type dynamodbAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	BatchWriteItem(ctx context.Context, in *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoStore keeps a META item per session plus one MSG#<seq> item per
// message under the same partition key, so a history never runs into the
// item size limit. An append bumps META.messageCount and puts the next message
// item in one transaction conditioned on the count it read, which linearizes
// concurrent appends to the same session.
//
// Only META items carry a ttl attribute. Messages left behind by an expired
// META are unreachable and are removed by Prune.
type DynamoStore struct {
	api       dynamodbAPI
	tableName string
	opts      options
}

func NewDynamoStore(api dynamodbAPI, tableName string, opts ...Option) (*DynamoStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &DynamoStore{api: api, tableName: tableName, opts: newOptions(opts)}, nil
}

func sessionPK(id string) string {
	return pkPrefixSession + id
}

// msgSK zero-pads the sequence number so sort-key order is append order.
func msgSK(seq int) string {
	return fmt.Sprintf("%s%010d", skPrefixMessage, seq)
}

func metaKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: sessionPK(id)},
		"SK": &types.AttributeValueMemberS{Value: skMeta},
	}
}

// ttlValue returns the expiry epoch for an item touched now, or 0 without retention.
func (c *DynamoStore) ttlValue() int64 {
	if c.opts.retention <= 0 {
		return 0
	}
	return c.opts.now().Add(c.opts.retention).Unix()
}

func (c *DynamoStore) Create(ctx context.Context, session domain.Session) (domain.Session, error) {
	session = prepareNew(session, c.opts)
	if len(session.Messages)+1 > maxTransactItems {
		return domain.Session{}, fmt.Errorf("repository: Create: %d initial messages do not fit one transaction", len(session.Messages))
	}
	meta, err := metaItem(session, len(session.Messages), c.ttlValue())
	if err != nil {
		return domain.Session{}, fmt.Errorf("repository: Create encode: %w", err)
	}

	if len(session.Messages) == 0 {
		_, err = c.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(c.tableName),
			Item:                meta,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
	} else {
		items := []types.TransactWriteItem{{
			Put: &types.Put{
				TableName:           aws.String(c.tableName),
				Item:                meta,
				ConditionExpression: aws.String("attribute_not_exists(PK)"),
			},
		}}
		for i, m := range session.Messages {
			item, err := messageItem(session.ID, i+1, m)
			if err != nil {
				return domain.Session{}, fmt.Errorf("repository: Create encode: %w", err)
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{TableName: aws.String(c.tableName), Item: item},
			})
		}
		_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	}
	if err != nil {
		if isConditionFailed(err) || cancelledOnCondition(err, 0) {
			return domain.Session{}, ErrAlreadyExists
		}
		return domain.Session{}, &PersistenceError{Op: "create", Err: fmt.Errorf("repository: Create: %w", err)}
	}
	return session, nil
}

func (c *DynamoStore) Get(ctx context.Context, id string) (domain.Session, error) {
	return c.querySession(ctx, id, "")
}

// querySession loads the META item and the messages of one session in
// sort-key order. A non-empty upTo stops at that message sort key.
func (c *DynamoStore) querySession(ctx context.Context, id, upTo string) (domain.Session, error) {
	keyCond := "PK = :pk"
	values := map[string]types.AttributeValue{
		":pk": &types.AttributeValueMemberS{Value: sessionPK(id)},
	}
	if upTo != "" {
		// "META" sorts before every "MSG#" key, so the range keeps it.
		keyCond += " AND SK <= :upTo"
		values[":upTo"] = &types.AttributeValueMemberS{Value: upTo}
	}

	var items []map[string]types.AttributeValue
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:                 aws.String(c.tableName),
			KeyConditionExpression:    aws.String(keyCond),
			ExpressionAttributeValues: values,
			ExclusiveStartKey:         startKey,
			ConsistentRead:            aws.Bool(true),
			ScanIndexForward:          aws.Bool(true),
		})
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: Query: %w", err)
		}
		items = append(items, out.Items...)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}

	session, err := sessionFromItems(items)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.Session{}, ErrNotFound
		}
		return domain.Session{}, fmt.Errorf("repository: decode session %q: %w", id, err)
	}
	return session, nil
}

// metaState is what a write needs to know about the stored META item.
type metaState struct {
	createdAt time.Time
	count     int
}

func (c *DynamoStore) readMeta(ctx context.Context, id string) (metaState, error) {
	out, err := c.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(c.tableName),
		Key:                  metaKey(id),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("createdAt, messageCount"),
	})
	if err != nil {
		return metaState{}, fmt.Errorf("repository: GetItem: %w", err)
	}
	if out == nil || len(out.Item) == 0 {
		return metaState{}, ErrNotFound
	}
	createdAt, err := timeAttr(out.Item, "createdAt")
	if err != nil {
		return metaState{}, err
	}
	count, err := intAttr(out.Item, "messageCount")
	if err != nil {
		return metaState{}, err
	}
	return metaState{createdAt: createdAt, count: count}, nil
}

// Update rewrites the mutable attributes of an existing session. Stored
// messages are never touched.
func (c *DynamoStore) Update(ctx context.Context, session domain.Session) (domain.Session, error) {
	session.Normalize()
	meta, err := c.readMeta(ctx, session.ID)
	if err != nil {
		return domain.Session{}, err
	}

	names := map[string]string{
		"#title":     "title",
		"#level":     "level",
		"#focus":     "focus",
		"#updatedAt": "updatedAt",
		"#userId":    "userId",
		"#metadata":  "metadata",
	}
	values := map[string]types.AttributeValue{
		":title":     &types.AttributeValueMemberS{Value: session.Title},
		":level":     &types.AttributeValueMemberS{Value: string(session.Level)},
		":focus":     &types.AttributeValueMemberS{Value: string(session.Focus)},
		":updatedAt": &types.AttributeValueMemberS{Value: formatTime(touch(c.opts.now(), meta.createdAt))},
	}
	set := []string{"#title = :title", "#level = :level", "#focus = :focus", "#updatedAt = :updatedAt"}
	var remove []string

	if session.UserID != "" {
		set = append(set, "#userId = :userId")
		values[":userId"] = &types.AttributeValueMemberS{Value: session.UserID}
	} else {
		remove = append(remove, "#userId")
	}
	if session.Metadata != nil {
		raw, err := json.Marshal(session.Metadata)
		if err != nil {
			return domain.Session{}, fmt.Errorf("repository: Update encode metadata: %w", err)
		}
		set = append(set, "#metadata = :metadata")
		values[":metadata"] = &types.AttributeValueMemberS{Value: string(raw)}
	} else {
		remove = append(remove, "#metadata")
	}
	set = c.withTTL(set, names, values)

	expr := "SET " + strings.Join(set, ", ")
	if len(remove) > 0 {
		expr += " REMOVE " + strings.Join(remove, ", ")
	}
	return c.updateMeta(ctx, "update", session.ID, expr, names, values)
}

// UpdateTitle changes only the title, leaving every other attribute as stored.
func (c *DynamoStore) UpdateTitle(ctx context.Context, id, title string) (domain.Session, error) {
	meta, err := c.readMeta(ctx, id)
	if err != nil {
		return domain.Session{}, err
	}
	names := map[string]string{
		"#title":     "title",
		"#updatedAt": "updatedAt",
	}
	values := map[string]types.AttributeValue{
		":title":     &types.AttributeValueMemberS{Value: titleOrDefault(title)},
		":updatedAt": &types.AttributeValueMemberS{Value: formatTime(touch(c.opts.now(), meta.createdAt))},
	}
	set := c.withTTL([]string{"#title = :title", "#updatedAt = :updatedAt"}, names, values)
	return c.updateMeta(ctx, "update title", id, "SET "+strings.Join(set, ", "), names, values)
}

func (c *DynamoStore) withTTL(set []string, names map[string]string, values map[string]types.AttributeValue) []string {
	ttl := c.ttlValue()
	if ttl <= 0 {
		return set
	}
	names["#ttl"] = "ttl"
	values[":ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}
	return append(set, "#ttl = :ttl")
}

func (c *DynamoStore) updateMeta(ctx context.Context, op, id, expr string, names map[string]string, values map[string]types.AttributeValue) (domain.Session, error) {
	_, err := c.api.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(c.tableName),
		Key:                       metaKey(id),
		UpdateExpression:          aws.String(expr),
		ConditionExpression:       aws.String("attribute_exists(PK)"),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
	})
	if err != nil {
		if isConditionFailed(err) {
			return domain.Session{}, ErrNotFound
		}
		return domain.Session{}, &PersistenceError{Op: op, Err: fmt.Errorf("repository: UpdateItem: %w", err)}
	}
	return c.Get(ctx, id)
}

// AppendMessage adds msg as the next message of the session. A lost race with
// another writer re-reads the count and tries again.
func (c *DynamoStore) AppendMessage(ctx context.Context, id string, msg domain.Message) (domain.Session, error) {
	msg = prepareMessage(msg, c.opts)
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		meta, err := c.readMeta(ctx, id)
		if err != nil {
			return domain.Session{}, err
		}
		seq := meta.count + 1
		err = c.appendAt(ctx, id, seq, meta, msg)
		switch {
		case err == nil:
			return c.querySession(ctx, id, msgSK(seq))
		case cancelledOnCondition(err, 0):
			c.opts.logger.Debug("append conflicted; retrying", "session_id", id, "attempt", attempt)
		default:
			return domain.Session{}, &PersistenceError{Op: "append message", Err: fmt.Errorf("repository: TransactWriteItems: %w", err)}
		}
	}
	return domain.Session{}, &PersistenceError{
		Op:  "append message",
		Err: fmt.Errorf("repository: AppendMessage: gave up after %d conflicting attempts", maxAppendAttempts),
	}
}

func (c *DynamoStore) appendAt(ctx context.Context, id string, seq int, meta metaState, msg domain.Message) error {
	item, err := messageItem(id, seq, msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	names := map[string]string{
		"#messageCount": "messageCount",
		"#updatedAt":    "updatedAt",
	}
	values := map[string]types.AttributeValue{
		":expected":  &types.AttributeValueMemberN{Value: strconv.Itoa(meta.count)},
		":next":      &types.AttributeValueMemberN{Value: strconv.Itoa(seq)},
		":updatedAt": &types.AttributeValueMemberS{Value: formatTime(touch(c.opts.now(), meta.createdAt))},
	}
	set := c.withTTL([]string{"#messageCount = :next", "#updatedAt = :updatedAt"}, names, values)

	_, err = c.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Update: &types.Update{
					TableName:                 aws.String(c.tableName),
					Key:                       metaKey(id),
					UpdateExpression:          aws.String("SET " + strings.Join(set, ", ")),
					ConditionExpression:       aws.String("attribute_exists(PK) AND #messageCount = :expected"),
					ExpressionAttributeNames:  names,
					ExpressionAttributeValues: values,
				},
			},
			{
				Put: &types.Put{
					TableName:           aws.String(c.tableName),
					Item:                item,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				},
			},
		},
	})
	return err
}

// Delete removes the META item and every message of the session.
func (c *DynamoStore) Delete(ctx context.Context, id string) (bool, error) {
	keys, hadMeta, err := c.sessionKeys(ctx, id)
	if err != nil {
		return false, &PersistenceError{Op: "delete", Err: fmt.Errorf("repository: Delete: %w", err)}
	}
	if err := c.deleteKeys(ctx, keys); err != nil {
		return false, &PersistenceError{Op: "delete", Err: fmt.Errorf("repository: Delete: %w", err)}
	}
	return hadMeta, nil
}

// sessionKeys lists the primary keys under a session's partition, META first.
func (c *DynamoStore) sessionKeys(ctx context.Context, id string) ([]map[string]types.AttributeValue, bool, error) {
	var keys []map[string]types.AttributeValue
	hadMeta := false
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(c.tableName),
			KeyConditionExpression: aws.String("PK = :pk"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":pk": &types.AttributeValueMemberS{Value: sessionPK(id)},
			},
			ProjectionExpression: aws.String("PK, SK"),
			ExclusiveStartKey:    startKey,
			ConsistentRead:       aws.Bool(true),
		})
		if err != nil {
			return nil, false, fmt.Errorf("query keys: %w", err)
		}
		for _, item := range out.Items {
			keys = append(keys, itemKey(item))
			if sk, _ := strAttr(item, "SK"); sk == skMeta {
				hadMeta = true
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	sortMetaFirst(keys)
	return keys, hadMeta, nil
}

// deleteKeys removes keys in BatchWriteItem chunks, resubmitting unprocessed
// requests with a short backoff.
func (c *DynamoStore) deleteKeys(ctx context.Context, keys []map[string]types.AttributeValue) error {
	for start := 0; start < len(keys); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(keys))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, key := range keys[start:end] {
			requests = append(requests, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key}})
		}
		pending := map[string][]types.WriteRequest{c.tableName: requests}

		for attempt := 0; len(pending[c.tableName]) > 0; attempt++ {
			if attempt == maxBatchAttempts {
				return fmt.Errorf("batch delete: %d requests still unprocessed", len(pending[c.tableName]))
			}
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
				}
			}
			out, err := c.api.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
			if err != nil {
				return fmt.Errorf("batch delete: %w", err)
			}
			pending = out.UnprocessedItems
		}
	}
	return nil
}

func (c *DynamoStore) ListByUser(ctx context.Context, userID string) ([]domain.Session, error) {
	all, err := c.scanSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: ListByUser: %w", err)
	}
	out := make([]domain.Session, 0)
	for _, s := range all {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sortRecent(out)
	return out, nil
}

// ListRecent scans every session; fine for the table sizes a single tutor deployment sees.
func (c *DynamoStore) ListRecent(ctx context.Context, limit int) ([]domain.Session, error) {
	out, err := c.scanSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("repository: ListRecent: %w", err)
	}
	sortRecent(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Prune deletes sessions not updated within the retention window together
// with message items whose META item is gone, and reports how many sessions
// it removed. DynamoDB's own TTL only ever expires META items.
func (c *DynamoStore) Prune(ctx context.Context) (int, error) {
	groups, err := c.scanGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("repository: Prune: %w", err)
	}
	now := c.opts.now()
	removed := 0
	var keys []map[string]types.AttributeValue
	for pk, items := range groups {
		session, err := sessionFromItems(items)
		switch {
		case errors.Is(err, ErrNotFound):
			// orphaned messages
		case err != nil:
			c.opts.logger.Warn("skipping undecodable session", "pk", pk, "err", err)
			continue
		case !expired(session.UpdatedAt, now, c.opts.retention):
			continue
		default:
			removed++
		}
		for _, item := range items {
			keys = append(keys, itemKey(item))
		}
	}
	if err := c.deleteKeys(ctx, keys); err != nil {
		return 0, &PersistenceError{Op: "prune", Err: fmt.Errorf("repository: Prune: %w", err)}
	}
	if len(keys) > 0 {
		c.opts.logger.Info("dynamodb sessions pruned", "sessions", removed, "items", len(keys))
	}
	return removed, nil
}

func (c *DynamoStore) scanSessions(ctx context.Context) ([]domain.Session, error) {
	groups, err := c.scanGroups(ctx)
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(groups))
	for _, items := range groups {
		session, err := sessionFromItems(items)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan unmarshal: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// scanGroups reads every session item and groups them by partition key, each
// group in sort-key order.
func (c *DynamoStore) scanGroups(ctx context.Context) (map[string][]map[string]types.AttributeValue, error) {
	groups := make(map[string][]map[string]types.AttributeValue)
	var startKey map[string]types.AttributeValue
	for {
		out, err := c.api.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(c.tableName),
			FilterExpression: aws.String("begins_with(PK, :prefix)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":prefix": &types.AttributeValueMemberS{Value: pkPrefixSession},
			},
			ExclusiveStartKey: startKey,
			ConsistentRead:    aws.Bool(true),
		})
		if err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		for _, item := range out.Items {
			pk, err := strAttr(item, "PK")
			if err != nil {
				return nil, err
			}
			groups[pk] = append(groups[pk], item)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		startKey = out.LastEvaluatedKey
	}
	for _, items := range groups {
		slices.SortFunc(items, func(a, b map[string]types.AttributeValue) int {
			skA, _ := strAttr(a, "SK")
			skB, _ := strAttr(b, "SK")
			return strings.Compare(skA, skB)
		})
	}
	return groups, nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// cancelledOnCondition reports whether a transaction was cancelled because the
// condition of its idx-th action failed.
func cancelledOnCondition(err error, idx int) bool {
	var tce *types.TransactionCanceledException
	if !errors.As(err, &tce) || idx >= len(tce.CancellationReasons) {
		return false
	}
	return aws.ToString(tce.CancellationReasons[idx].Code) == "ConditionalCheckFailed"
}

func itemKey(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"PK": item["PK"], "SK": item["SK"]}
}

func sortMetaFirst(keys []map[string]types.AttributeValue) {
	slices.SortStableFunc(keys, func(a, b map[string]types.AttributeValue) int {
		skA, _ := strAttr(a, "SK")
		skB, _ := strAttr(b, "SK")
		switch {
		case skA == skMeta && skB != skMeta:
			return -1
		case skB == skMeta && skA != skMeta:
			return 1
		default:
			return 0
		}
	})
}

// sessionFromItems assembles a session from its META item and message items,
// which must already be in sort-key order. Without a META item it returns
// ErrNotFound.
func sessionFromItems(items []map[string]types.AttributeValue) (domain.Session, error) {
	var meta map[string]types.AttributeValue
	messages := make([]domain.Message, 0, len(items))
	for _, item := range items {
		sk, err := strAttr(item, "SK")
		if err != nil {
			return domain.Session{}, err
		}
		switch {
		case sk == skMeta:
			meta = item
		case strings.HasPrefix(sk, skPrefixMessage):
			msg, err := itemToMessage(item)
			if err != nil {
				return domain.Session{}, fmt.Errorf("%s: %w", sk, err)
			}
			messages = append(messages, msg)
		}
	}
	if meta == nil {
		return domain.Session{}, ErrNotFound
	}
	session, err := itemToSession(meta)
	if err != nil {
		return domain.Session{}, err
	}
	session.Messages = messages
	return session, nil
}

func metaItem(s domain.Session, count int, ttl int64) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":           &types.AttributeValueMemberS{Value: sessionPK(s.ID)},
		"SK":           &types.AttributeValueMemberS{Value: skMeta},
		"sessionId":    &types.AttributeValueMemberS{Value: s.ID},
		"title":        &types.AttributeValueMemberS{Value: s.Title},
		"level":        &types.AttributeValueMemberS{Value: string(s.Level)},
		"focus":        &types.AttributeValueMemberS{Value: string(s.Focus)},
		"createdAt":    &types.AttributeValueMemberS{Value: formatTime(s.CreatedAt)},
		"updatedAt":    &types.AttributeValueMemberS{Value: formatTime(s.UpdatedAt)},
		"messageCount": &types.AttributeValueMemberN{Value: strconv.Itoa(count)},
	}
	if s.UserID != "" {
		item["userId"] = &types.AttributeValueMemberS{Value: s.UserID}
	}
	if s.Metadata != nil {
		raw, err := json.Marshal(s.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode metadata: %w", err)
		}
		item["metadata"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	if ttl > 0 {
		item["ttl"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(ttl, 10)}
	}
	return item, nil
}

func messageItem(sessionID string, seq int, m domain.Message) (map[string]types.AttributeValue, error) {
	item := map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: sessionPK(sessionID)},
		"SK":        &types.AttributeValueMemberS{Value: msgSK(seq)},
		"messageId": &types.AttributeValueMemberS{Value: m.ID},
		"role":      &types.AttributeValueMemberS{Value: string(m.Role)},
		"content":   &types.AttributeValueMemberS{Value: m.Content},
		"timestamp": &types.AttributeValueMemberS{Value: formatTime(m.Timestamp)},
	}
	if m.Metadata != nil {
		raw, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("encode message metadata: %w", err)
		}
		item["metadata"] = &types.AttributeValueMemberS{Value: string(raw)}
	}
	return item, nil
}

// itemToSession converts a META item to a Session without messages.
func itemToSession(item map[string]types.AttributeValue) (domain.Session, error) {
	id, err := strAttr(item, "sessionId")
	if err != nil {
		return domain.Session{}, err
	}
	title, err := strAttr(item, "title")
	if err != nil {
		return domain.Session{}, err
	}
	createdAt, err := timeAttr(item, "createdAt")
	if err != nil {
		return domain.Session{}, err
	}
	updatedAt, err := timeAttr(item, "updatedAt")
	if err != nil {
		return domain.Session{}, err
	}
	level, _ := strAttr(item, "level")   // defaulted by Normalize
	focus, _ := strAttr(item, "focus")   // defaulted by Normalize
	userID, _ := strAttr(item, "userId") // absent for anonymous sessions

	metadata, err := jsonMapAttr(item, "metadata")
	if err != nil {
		return domain.Session{}, err
	}

	s := domain.Session{
		ID:        id,
		UserID:    userID,
		Title:     title,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
		Messages:  []domain.Message{},
		Level:     domain.Level(level),
		Focus:     domain.Focus(focus),
		Metadata:  metadata,
	}
	s.Normalize()
	return s, nil
}

func itemToMessage(item map[string]types.AttributeValue) (domain.Message, error) {
	id, err := strAttr(item, "messageId")
	if err != nil {
		return domain.Message{}, err
	}
	role, err := strAttr(item, "role")
	if err != nil {
		return domain.Message{}, err
	}
	content, err := strAttr(item, "content")
	if err != nil {
		return domain.Message{}, err
	}
	ts, err := timeAttr(item, "timestamp")
	if err != nil {
		return domain.Message{}, err
	}
	metadata, err := jsonMapAttr(item, "metadata")
	if err != nil {
		return domain.Message{}, err
	}
	return domain.Message{
		ID:        id,
		Content:   content,
		Role:      domain.Role(role),
		Timestamp: ts,
		Metadata:  metadata,
	}, nil
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

func intAttr(item map[string]types.AttributeValue, key string) (int, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	i, err := strconv.Atoi(n.Value)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return i, nil
}

func timeAttr(item map[string]types.AttributeValue, key string) (time.Time, error) {
	s, err := strAttr(item, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := parseTime(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return t, nil
}

// jsonMapAttr decodes an optional JSON-encoded map attribute.
func jsonMapAttr(item map[string]types.AttributeValue, key string) (map[string]any, error) {
	if _, ok := item[key]; !ok {
		return nil, nil
	}
	raw, err := strAttr(item, key)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("repository: decode attribute %q: %w", key, err)
	}
	return out, nil
}
