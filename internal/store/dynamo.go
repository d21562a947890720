package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/natours/api/internal/query"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DynamoAPI is the subset of the DynamoDB client the store uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	TransactWriteItems(ctx context.Context, params *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
}

// NewDynamo returns a store with one table per collection plus a marker
// table that enforces unique indexes.
func NewDynamo(client DynamoAPI, prefix string) *Store {
	uniqueTable := UniqueTableName(prefix)
	s := &Store{
		Tours:    NewDynamoCollection(client, Tours, prefix, uniqueTable),
		Users:    NewDynamoCollection(client, Users, prefix, uniqueTable),
		Reviews:  NewDynamoCollection(client, Reviews, prefix, uniqueTable),
		Bookings: NewDynamoCollection(client, Bookings, prefix, uniqueTable),
		Driver:   "dynamodb",
	}
	s.ping = func(ctx context.Context) error {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
			TableName: aws.String(TableName(prefix, Tours)),
		})
		return err
	}
	return s
}

func TableName(prefix string, def Definition) string {
	return prefix + "-" + def.Name
}

func UniqueTableName(prefix string) string {
	return prefix + "-unique"
}

// EnsureTables creates missing tables with on-demand capacity and waits
// for them to become active.
func EnsureTables(ctx context.Context, client DynamoAPI, prefix string, logger *logrus.Logger) error {
	tables := map[string]string{UniqueTableName(prefix): "pk"}
	for _, def := range []Definition{Tours, Users, Reviews, Bookings} {
		tables[TableName(prefix, def)] = "id"
	}

	waiter := dynamodb.NewTableExistsWaiter(client)
	for name, key := range tables {
		_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)})
		if err == nil {
			continue
		}
		var notFound *types.ResourceNotFoundException
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to describe table %s: %w", name, err)
		}

		_, err = client.CreateTable(ctx, &dynamodb.CreateTableInput{
			TableName: aws.String(name),
			AttributeDefinitions: []types.AttributeDefinition{
				{AttributeName: aws.String(key), AttributeType: types.ScalarAttributeTypeS},
			},
			KeySchema: []types.KeySchemaElement{
				{AttributeName: aws.String(key), KeyType: types.KeyTypeHash},
			},
			BillingMode: types.BillingModePayPerRequest,
		})
		var inUse *types.ResourceInUseException
		if err != nil && !errors.As(err, &inUse) {
			return fmt.Errorf("failed to create table %s: %w", name, err)
		}

		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, 2*time.Minute); err != nil {
			return fmt.Errorf("table %s did not become active: %w", name, err)
		}
		logger.WithField("table", name).Info("DynamoDB table created")
	}
	return nil
}

// DynamoCollection stores one document per item keyed by "id".
type DynamoCollection struct {
	client      DynamoAPI
	def         Definition
	table       string
	uniqueTable string
}

var _ Collection = (*DynamoCollection)(nil)

func NewDynamoCollection(client DynamoAPI, def Definition, prefix, uniqueTable string) *DynamoCollection {
	return &DynamoCollection{
		client:      client,
		def:         def,
		table:       TableName(prefix, def),
		uniqueTable: uniqueTable,
	}
}

func (d *DynamoCollection) Name() string { return d.def.Name }

// marker is the unique-table item owning one index key.
type marker struct {
	index int
	key   string
}

func (d *DynamoCollection) markerPK(m marker) string {
	return fmt.Sprintf("%s#%s#%s", d.def.Name, strings.Join(d.def.Unique[m.index], "+"), m.key)
}

func (d *DynamoCollection) markers(doc map[string]interface{}) map[int]marker {
	out := make(map[int]marker, len(d.def.Unique))
	for i, idx := range d.def.Unique {
		if key, ok := indexKey(doc, idx); ok {
			out[i] = marker{index: i, key: key}
		}
	}
	return out
}

func (d *DynamoCollection) putMarker(m marker, owner string) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName: aws.String(d.uniqueTable),
		Item: item{
			"pk":    &types.AttributeValueMemberS{Value: d.markerPK(m)},
			"owner": &types.AttributeValueMemberS{Value: owner},
		},
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	}}
}

func (d *DynamoCollection) deleteMarker(m marker) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName: aws.String(d.uniqueTable),
		Key:       item{"pk": &types.AttributeValueMemberS{Value: d.markerPK(m)}},
	}}
}

func (d *DynamoCollection) key(id string) item {
	return item{"id": &types.AttributeValueMemberS{Value: id}}
}

func (d *DynamoCollection) Insert(ctx context.Context, doc Document) (err error) {
	defer observe(ctx, d.def.Name, "insert")(&err)

	if doc.DocumentID() == "" {
		doc.SetDocumentID(uuid.NewString())
	}
	doc.SetDocumentVersion(0)
	id := doc.DocumentID()

	it, err := encode(doc)
	if err != nil {
		return err
	}
	p, err := plain(it)
	if err != nil {
		return err
	}

	markers := d.markers(p)
	if len(markers) == 0 {
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(d.table),
			Item:                it,
			ConditionExpression: aws.String("attribute_not_exists(id)"),
		})
		if isConditionFailed(err) {
			return &DuplicateKeyError{Collection: d.def.Name, Fields: []string{"id"}, Value: id}
		}
		if err != nil {
			return fmt.Errorf("failed to put %s item: %w", d.def.Name, err)
		}
		return nil
	}

	items := []types.TransactWriteItem{{Put: &types.Put{
		TableName:           aws.String(d.table),
		Item:                it,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	}}}
	ops := []*marker{nil}
	for i := range d.def.Unique {
		if m, ok := markers[i]; ok {
			items = append(items, d.putMarker(m, id))
			ops = append(ops, &m)
		}
	}

	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return d.transactionError(err, ops, &DuplicateKeyError{Collection: d.def.Name, Fields: []string{"id"}, Value: id})
}

func (d *DynamoCollection) Save(ctx context.Context, doc Document) (err error) {
	defer observe(ctx, d.def.Name, "save")(&err)

	id := doc.DocumentID()
	expected := doc.DocumentVersion()

	old, err := d.get(ctx, id)
	if err != nil {
		return err
	}
	oldPlain, err := plain(old)
	if err != nil {
		return err
	}
	if v, _ := oldPlain["__v"].(float64); int(v) != expected {
		return ErrVersionConflict
	}

	doc.SetDocumentVersion(expected + 1)
	defer func() {
		if err != nil {
			doc.SetDocumentVersion(expected)
		}
	}()

	it, err := encode(doc)
	if err != nil {
		return err
	}
	newPlain, err := plain(it)
	if err != nil {
		return err
	}

	put := &types.Put{
		TableName:                aws.String(d.table),
		Item:                     it,
		ConditionExpression:      aws.String("#v = :expected"),
		ExpressionAttributeNames: map[string]string{"#v": "__v"},
		ExpressionAttributeValues: item{
			":expected": &types.AttributeValueMemberN{Value: strconv.Itoa(expected)},
		},
	}

	items := []types.TransactWriteItem{{Put: put}}
	ops := []*marker{nil}
	oldMarkers, newMarkers := d.markers(oldPlain), d.markers(newPlain)
	for i := range d.def.Unique {
		before, hadBefore := oldMarkers[i]
		after, hasAfter := newMarkers[i]
		if hadBefore && hasAfter && before.key == after.key {
			continue
		}
		if hadBefore {
			items = append(items, d.deleteMarker(before))
			ops = append(ops, nil)
		}
		if hasAfter {
			items = append(items, d.putMarker(after, id))
			ops = append(ops, &after)
		}
	}

	if len(items) == 1 {
		_, err = d.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:                 put.TableName,
			Item:                      put.Item,
			ConditionExpression:       put.ConditionExpression,
			ExpressionAttributeNames:  put.ExpressionAttributeNames,
			ExpressionAttributeValues: put.ExpressionAttributeValues,
		})
		if isConditionFailed(err) {
			return ErrVersionConflict
		}
		if err != nil {
			return fmt.Errorf("failed to put %s item: %w", d.def.Name, err)
		}
		return nil
	}

	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return d.transactionError(err, ops, ErrVersionConflict)
}

func (d *DynamoCollection) Delete(ctx context.Context, id string) (err error) {
	defer observe(ctx, d.def.Name, "delete")(&err)

	old, err := d.get(ctx, id)
	if err != nil {
		return err
	}
	oldPlain, err := plain(old)
	if err != nil {
		return err
	}

	del := &types.Delete{
		TableName:           aws.String(d.table),
		Key:                 d.key(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	}
	markers := d.markers(oldPlain)
	if len(markers) == 0 {
		_, err = d.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           del.TableName,
			Key:                 del.Key,
			ConditionExpression: del.ConditionExpression,
		})
		if isConditionFailed(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to delete %s item: %w", d.def.Name, err)
		}
		return nil
	}

	items := []types.TransactWriteItem{{Delete: del}}
	ops := []*marker{nil}
	for _, m := range markers {
		items = append(items, d.deleteMarker(m))
		ops = append(ops, nil)
	}
	_, err = d.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
	return d.transactionError(err, ops, ErrNotFound)
}

func (d *DynamoCollection) DeleteAll(ctx context.Context) error {
	items, _, err := d.scan(ctx, nil, nil)
	if err != nil {
		return err
	}
	for _, it := range items {
		id, ok := it["id"].(*types.AttributeValueMemberS)
		if !ok {
			continue
		}
		if err := d.Delete(ctx, id.Value); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (d *DynamoCollection) FindOne(ctx context.Context, f query.Filter, out Document) (err error) {
	defer observe(ctx, d.def.Name, "find_one")(&err)

	if id, ok := idFromFilter(f); ok {
		it, err := d.get(ctx, id)
		if err != nil {
			return err
		}
		p, err := plain(it)
		if err != nil {
			return err
		}
		if !query.Match(p, f) {
			return ErrNotFound
		}
		return attributevalue.UnmarshalMap(it, out)
	}

	items, docs, err := d.scan(ctx, f, nil)
	if err != nil {
		return err
	}
	idx := query.Select(docs, query.Query{Filter: f, Limit: 1})
	if len(idx) == 0 {
		return ErrNotFound
	}
	return attributevalue.UnmarshalMap(items[idx[0]], out)
}

func (d *DynamoCollection) Find(ctx context.Context, q query.Query, out interface{}) (err error) {
	defer observe(ctx, d.def.Name, "find")(&err)

	items, docs, err := d.scan(ctx, q.Filter, q.Schema)
	if err != nil {
		return err
	}
	idx := query.Select(docs, q)
	selected := make([]item, 0, len(idx))
	for _, i := range idx {
		selected = append(selected, items[i])
	}
	return attributevalue.UnmarshalListOfMaps(selected, out)
}

func (d *DynamoCollection) Count(ctx context.Context, f query.Filter) (n int, err error) {
	defer observe(ctx, d.def.Name, "count")(&err)

	_, docs, err := d.scan(ctx, f, nil)
	if err != nil {
		return 0, err
	}
	return len(query.Select(docs, query.Query{Filter: f})), nil
}

func (d *DynamoCollection) get(ctx context.Context, id string) (item, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            d.key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s item: %w", d.def.Name, err)
	}
	if out.Item == nil {
		return nil, ErrNotFound
	}
	return out.Item, nil
}

// scan reads every item the pushed-down part of f may match. The caller
// re-applies f in process.
func (d *DynamoCollection) scan(ctx context.Context, f query.Filter, schema query.Schema) ([]item, []map[string]interface{}, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(d.table),
		ConsistentRead: aws.Bool(true),
	}
	if schema == nil {
		schema = schemaFor(d.def)
	}
	if expr := buildFilter(f, schema); expr.Expression != "" {
		input.FilterExpression = aws.String(expr.Expression)
		input.ExpressionAttributeNames = expr.Names
		input.ExpressionAttributeValues = expr.Values
	}

	var items []item
	paginator := dynamodb.NewScanPaginator(d.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to scan %s: %w", d.def.Name, err)
		}
		items = append(items, page.Items...)
	}

	docs := make([]map[string]interface{}, len(items))
	for i, it := range items {
		p, err := plain(it)
		if err != nil {
			return nil, nil, err
		}
		docs[i] = p
	}
	return items, docs, nil
}

// schemaFor is the minimal schema used when a caller gives none: only
// the id attribute is known to be a string.
func schemaFor(def Definition) query.Schema {
	return query.Schema{"id": {Kind: query.KindID}}
}

// transactionError maps a cancelled transaction to store errors. ops is
// aligned with the transaction items; a non-nil entry is a marker put.
func (d *DynamoCollection) transactionError(err error, ops []*marker, onMain error) error {
	if err == nil {
		return nil
	}
	var cancelled *types.TransactionCanceledException
	if errors.As(err, &cancelled) {
		for i, reason := range cancelled.CancellationReasons {
			if aws.ToString(reason.Code) != "ConditionalCheckFailed" {
				continue
			}
			if i == 0 {
				return onMain
			}
			if i < len(ops) && ops[i] != nil {
				return &DuplicateKeyError{
					Collection: d.def.Name,
					Fields:     d.def.Unique[ops[i].index],
					Value:      ops[i].key,
				}
			}
		}
	}
	return fmt.Errorf("%s transaction failed: %w", d.def.Name, err)
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}
