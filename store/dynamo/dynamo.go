package dynamo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/gofrs/uuid/v5"

	"github.com/kishor-kashid/collabcanvas/models"
	"github.com/kishor-kashid/collabcanvas/store"
)

type DynamoCanvasStore struct {
	client    *dynamodb.Client
	tableName string
}

func NewDynamoCanvasStore(ctx context.Context, devMode bool, dynamodbEndpoint string, tableName string) (*DynamoCanvasStore, error) {
	client, err := newDynamoDBClient(context.Background(), devMode, dynamodbEndpoint)
	if err != nil {
		return nil, err
	}

	tables, err := getTables(client, ctx)
	if err != nil {
		return nil, err
	}

	foundTable := false
	for _, table := range tables {
		if table == tableName {
			foundTable = true
			break
		}
	}
	if !foundTable {
		return nil, fmt.Errorf("given table name '%s' not found in dynamodb", tableName)
	}

	return &DynamoCanvasStore{client: client, tableName: tableName}, nil
}

func (dynamoStore *DynamoCanvasStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	userId, err := uuid.NewV4()
	if err != nil {
		return models.User{}, err
	}
	user.Id = userId.String()

	du := userToDynamo(user)
	du.Created = time.Now().Unix()
	du, _, err = ensureItem(dynamoStore, ctx, du)
	if err != nil {
		return models.User{}, err
	}

	user = userFromDynamo(du)
	return user, nil
}

func (dynamoStore *DynamoCanvasStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	du, err := getItem[dynamoUser](dynamoStore, ctx, "USER#"+provider+"#"+providerId, "PROFILE", false)
	if err != nil {
		return models.User{}, err
	}

	user := userFromDynamo(du)
	return user, nil
}

func (dynamoStore *DynamoCanvasStore) GetShapeDocument(ctx context.Context, canvasId string) ([]models.Shape, error) {
	dd, err := getItem[dynamoShapeDoc](dynamoStore, ctx, "CANVAS#"+canvasId, "SHAPES", true)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			// A canvas with no writes yet simply has no document item
			return []models.Shape{}, nil
		}
		return nil, err
	}

	return shapeDocFromDynamo(dd)
}

func (dynamoStore *DynamoCanvasStore) ReplaceShapeDocument(ctx context.Context, canvasId string, shapes []models.Shape) error {
	dd, err := shapeDocToDynamo(canvasId, shapes, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to encode shape document: %w", err)
	}
	return putItem(dynamoStore, ctx, dd)
}

func (dynamoStore *DynamoCanvasStore) DeleteShapeDocument(ctx context.Context, canvasId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "CANVAS#"+canvasId, "SHAPES", "", "")
}

func (dynamoStore *DynamoCanvasStore) CreateCanvas(ctx context.Context, canvas models.Canvas) (models.Canvas, error) {
	canvasId, err := uuid.NewV7()
	if err != nil {
		return models.Canvas{}, err
	}
	canvas.Id = canvasId.String()
	canvas.Created = time.Now().Unix()
	canvas.LastActive = canvas.Created

	dc := canvasToDynamo(canvas)
	dc, _, err = ensureItem(dynamoStore, ctx, dc)
	if err != nil {
		return models.Canvas{}, err
	}

	return canvasFromDynamo(dc), nil
}

func (dynamoStore *DynamoCanvasStore) GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error) {
	dc, err := getItem[dynamoCanvas](dynamoStore, ctx, "CANVAS#"+canvasId, "META", false)
	if err != nil {
		return models.Canvas{}, err
	}

	return canvasFromDynamo(dc), nil
}

func (dynamoStore *DynamoCanvasStore) UpdateCanvasMeta(ctx context.Context, canvas models.Canvas) (models.Canvas, error) {
	dc := canvasToDynamo(canvas)
	dc, err := updateItem(dynamoStore, ctx, dc, []string{"Name", "Width", "Height", "ShareCode"})
	if err != nil {
		return models.Canvas{}, err
	}

	return canvasFromDynamo(dc), nil
}

func (dynamoStore *DynamoCanvasStore) DeleteCanvas(ctx context.Context, canvasId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "CANVAS#"+canvasId, "META", "", "")
}

func (dynamoStore *DynamoCanvasStore) TouchCanvas(ctx context.Context, canvasId string, lastActive int64, shapeCountDelta int) error {
	// Strict mode: only touch if the canvas exists (prevents partial records after purge)
	return touchItem(dynamoStore, ctx, "CANVAS#"+canvasId, "META", "LastActive", lastActive, "ShapeCount", shapeCountDelta)
}

func (dynamoStore *DynamoCanvasStore) PutShareCode(ctx context.Context, code string, canvasId string) error {
	ds := shareCodeToDynamo(code, canvasId)
	_, inserted, err := ensureItem(dynamoStore, ctx, ds)
	if err != nil {
		return err
	}
	if !inserted {
		return store.ErrConditionFailed
	}
	return nil
}

func (dynamoStore *DynamoCanvasStore) GetCanvasIdByShareCode(ctx context.Context, code string) (string, error) {
	ds, err := getItem[dynamoShareCode](dynamoStore, ctx, "SHARE#"+code, "CANVAS", false)
	if err != nil {
		return "", err
	}
	return ds.CanvasId, nil
}

func (dynamoStore *DynamoCanvasStore) DeleteShareCode(ctx context.Context, code string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "SHARE#"+code, "CANVAS", "", "")
}

func (dynamoStore *DynamoCanvasStore) AddCanvasMember(ctx context.Context, member models.CanvasMember) error {
	dm := memberToDynamo(member)
	dm.Added = time.Now().Unix()
	_, _, err := ensureItem(dynamoStore, ctx, dm)
	return err
}

func (dynamoStore *DynamoCanvasStore) GetCanvasMember(ctx context.Context, canvasId string, userId string) (models.CanvasMember, error) {
	dm, err := getItem[dynamoMember](dynamoStore, ctx, "MEMBER#"+userId, "CANVAS#"+canvasId, false)
	if err != nil {
		return models.CanvasMember{}, err
	}
	return memberFromDynamo(dm), nil
}

func (dynamoStore *DynamoCanvasStore) RemoveCanvasMember(ctx context.Context, canvasId string, userId string) error {
	return deleteItemWithCondition(dynamoStore, ctx, "MEMBER#"+userId, "CANVAS#"+canvasId, "", "")
}

func (dynamoStore *DynamoCanvasStore) GetCanvasMembers(ctx context.Context, canvasId string) ([]models.CanvasMember, error) {
	dynamoMembers, err := queryAllByGSI[dynamoMember](dynamoStore, ctx, "GSI_CanvasMembers", "CanvasId", canvasId)
	if err != nil {
		return nil, err
	}

	members := make([]models.CanvasMember, 0, len(dynamoMembers))
	for _, dm := range dynamoMembers {
		members = append(members, memberFromDynamo(dm))
	}

	return members, nil
}

func (dynamoStore *DynamoCanvasStore) GetUserCanvases(ctx context.Context, userId string) ([]models.CanvasMember, error) {
	dynamoMembers, err := queryAllByPK[dynamoMember](dynamoStore, ctx, "MEMBER#"+userId, true, 0)
	if err != nil {
		return nil, err
	}

	members := make([]models.CanvasMember, 0, len(dynamoMembers))
	for _, dm := range dynamoMembers {
		members = append(members, memberFromDynamo(dm))
	}

	return members, nil
}

func (dynamoStore *DynamoCanvasStore) DeleteCanvasMembers(ctx context.Context, canvasId string) error {
	return batchDeleteByGSIThrottled(dynamoStore, ctx, "GSI_CanvasMembers", "CanvasId", canvasId, time.Duration(50*time.Millisecond))
}
