package dynamo

import (
	"encoding/json"
	"strings"

	"github.com/kishor-kashid/collabcanvas/models"
)

type dynamoUser struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	Provider   string `dynamodbav:"Provider"`
	ProviderId string `dynamodbav:"ProviderId"`
	Username   string `dynamodbav:"Username"`
	Created    int64  `dynamodbav:"Created"`
}

// Map domain User -> Dynamo
func userToDynamo(u models.User) dynamoUser {
	return dynamoUser{
		PK:         "USER#" + u.Provider + "#" + u.ProviderId,
		SK:         "PROFILE",
		Id:         u.Id,
		Provider:   u.Provider,
		ProviderId: u.ProviderId,
		Username:   u.Username,
		Created:    u.Created,
	}
}

// Map Dynamo -> domain User
func userFromDynamo(du dynamoUser) models.User {
	return models.User{
		Id:         du.Id,
		Username:   du.Username,
		Provider:   du.Provider,
		ProviderId: du.ProviderId,
		Created:    du.Created,
	}
}

// dynamoShapeDoc is the whole-canvas shape list as a single item. The list
// is stored as one JSON blob so a replace is one PutItem; last writer wins
// at document granularity.
type dynamoShapeDoc struct {
	PK      string `dynamodbav:"PK"`
	SK      string `dynamodbav:"SK"`
	Shapes  []byte `dynamodbav:"Shapes"`
	Updated int64  `dynamodbav:"Updated"`
}

func shapeDocToDynamo(canvasId string, shapes []models.Shape, updated int64) (dynamoShapeDoc, error) {
	if shapes == nil {
		shapes = []models.Shape{}
	}
	raw, err := json.Marshal(shapes)
	if err != nil {
		return dynamoShapeDoc{}, err
	}
	return dynamoShapeDoc{
		PK:      "CANVAS#" + canvasId,
		SK:      "SHAPES",
		Shapes:  raw,
		Updated: updated,
	}, nil
}

func shapeDocFromDynamo(dd dynamoShapeDoc) ([]models.Shape, error) {
	shapes := []models.Shape{}
	if len(dd.Shapes) == 0 {
		return shapes, nil
	}
	if err := json.Unmarshal(dd.Shapes, &shapes); err != nil {
		return nil, err
	}
	return shapes, nil
}

type dynamoCanvas struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	Id         string `dynamodbav:"Id"`
	Name       string `dynamodbav:"Name"`
	OwnerId    string `dynamodbav:"OwnerId"`
	Width      int    `dynamodbav:"Width"`
	Height     int    `dynamodbav:"Height"`
	ShareCode  string `dynamodbav:"ShareCode"`
	ShapeCount int    `dynamodbav:"ShapeCount"`
	Created    int64  `dynamodbav:"Created"`
	LastActive int64  `dynamodbav:"LastActive"`
}

func canvasToDynamo(c models.Canvas) dynamoCanvas {
	return dynamoCanvas{
		PK:         "CANVAS#" + c.Id,
		SK:         "META",
		Id:         c.Id,
		Name:       c.Name,
		OwnerId:    c.OwnerId,
		Width:      c.Width,
		Height:     c.Height,
		ShareCode:  c.ShareCode,
		ShapeCount: c.ShapeCount,
		Created:    c.Created,
		LastActive: c.LastActive,
	}
}

func canvasFromDynamo(dc dynamoCanvas) models.Canvas {
	return models.Canvas{
		Id:         dc.Id,
		Name:       dc.Name,
		OwnerId:    dc.OwnerId,
		Width:      dc.Width,
		Height:     dc.Height,
		ShareCode:  dc.ShareCode,
		ShapeCount: dc.ShapeCount,
		Created:    dc.Created,
		LastActive: dc.LastActive,
	}
}

type dynamoShareCode struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	CanvasId string `dynamodbav:"CanvasId"`
}

func shareCodeToDynamo(code string, canvasId string) dynamoShareCode {
	return dynamoShareCode{
		PK:       "SHARE#" + code,
		SK:       "CANVAS",
		CanvasId: canvasId,
	}
}

// dynamoMember indexes canvas membership both ways: the main table lists a
// user's canvases, GSI_CanvasMembers (PK: CanvasId) lists a canvas's users
// and drives the cascade delete.
type dynamoMember struct {
	PK       string `dynamodbav:"PK"`
	SK       string `dynamodbav:"SK"`
	CanvasId string `dynamodbav:"CanvasId"`
	UserId   string `dynamodbav:"UserId"`
	Role     string `dynamodbav:"Role"`
	Added    int64  `dynamodbav:"Added"`
}

func memberToDynamo(m models.CanvasMember) dynamoMember {
	return dynamoMember{
		PK:       "MEMBER#" + m.UserId,
		SK:       "CANVAS#" + m.CanvasId,
		CanvasId: m.CanvasId,
		UserId:   m.UserId,
		Role:     string(m.Role),
		Added:    m.Added,
	}
}

func memberFromDynamo(dm dynamoMember) models.CanvasMember {
	canvasId := dm.CanvasId
	if canvasId == "" && strings.HasPrefix(dm.SK, "CANVAS#") {
		canvasId = dm.SK[7:]
	}
	return models.CanvasMember{
		CanvasId: canvasId,
		UserId:   dm.UserId,
		Role:     models.CanvasRole(dm.Role),
		Added:    dm.Added,
	}
}
