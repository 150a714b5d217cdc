package models

type User struct {
	Id         string
	Username   string
	Provider   string
	ProviderId string
	Created    int64
}

type ShapeType string

const (
	ShapeRectangle ShapeType = "rectangle"
	ShapeCircle    ShapeType = "circle"
	ShapeText      ShapeType = "text"
	ShapeLine      ShapeType = "line"
)

type RectGeometry struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type CircleGeometry struct {
	Radius float64 `json:"radius"`
}

type TextGeometry struct {
	Text     string  `json:"text"`
	FontSize float64 `json:"fontSize"`
	Width    float64 `json:"width"`
}

type LineGeometry struct {
	X2          float64 `json:"x2"`
	Y2          float64 `json:"y2"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// Shape is one mutable object in a canvas document. The Type tag selects
// exactly one geometry variant; the others must be nil.
type Shape struct {
	Id       string    `json:"id"`
	Type     ShapeType `json:"type"`
	X        float64   `json:"x"`
	Y        float64   `json:"y"`
	Rotation float64   `json:"rotation"`
	ScaleX   float64   `json:"scaleX"`
	ScaleY   float64   `json:"scaleY"`

	Rect   *RectGeometry   `json:"rect,omitempty"`
	Circle *CircleGeometry `json:"circle,omitempty"`
	Text   *TextGeometry   `json:"text,omitempty"`
	Line   *LineGeometry   `json:"line,omitempty"`

	Fill      string  `json:"fill"`
	Opacity   float64 `json:"opacity"`
	BlendMode string  `json:"blendMode"`
	Visible   bool    `json:"visible"`

	// LayerLocked is the permanent user-toggled lock, independent of the
	// advisory edit lease below.
	LayerLocked bool `json:"layerLocked"`

	IsLocked      bool   `json:"isLocked"`
	LockedBy      string `json:"lockedBy,omitempty"`
	LockStartTime int64  `json:"lockStartTime,omitempty"`

	CreatedBy      string `json:"createdBy"`
	CreatedAt      int64  `json:"createdAt"`
	LastModifiedBy string `json:"lastModifiedBy"`
	LastModifiedAt int64  `json:"lastModifiedAt"`
}

// Area returns the area covered by the shape's geometry, before transform.
func (s Shape) Area() float64 {
	switch s.Type {
	case ShapeRectangle:
		if s.Rect != nil {
			return s.Rect.Width * s.Rect.Height
		}
	case ShapeCircle:
		if s.Circle != nil {
			return 3.141592653589793 * s.Circle.Radius * s.Circle.Radius
		}
	case ShapeText:
		if s.Text != nil {
			return s.Text.Width * s.Text.FontSize
		}
	case ShapeLine:
		return 0
	}
	return 0
}

// ShapePatch is a partial update: only non-nil fields are applied. The same
// representation carries the old/new property subsets of update actions, so
// applying the old patch of an update restores the exact prior values.
type ShapePatch struct {
	X        *float64 `json:"x,omitempty"`
	Y        *float64 `json:"y,omitempty"`
	Rotation *float64 `json:"rotation,omitempty"`
	ScaleX   *float64 `json:"scaleX,omitempty"`
	ScaleY   *float64 `json:"scaleY,omitempty"`

	Rect   *RectGeometry   `json:"rect,omitempty"`
	Circle *CircleGeometry `json:"circle,omitempty"`
	Text   *TextGeometry   `json:"text,omitempty"`
	Line   *LineGeometry   `json:"line,omitempty"`

	Fill        *string  `json:"fill,omitempty"`
	Opacity     *float64 `json:"opacity,omitempty"`
	BlendMode   *string  `json:"blendMode,omitempty"`
	Visible     *bool    `json:"visible,omitempty"`
	LayerLocked *bool    `json:"layerLocked,omitempty"`
}

func (p ShapePatch) IsEmpty() bool {
	return p.X == nil && p.Y == nil && p.Rotation == nil && p.ScaleX == nil &&
		p.ScaleY == nil && p.Rect == nil && p.Circle == nil && p.Text == nil &&
		p.Line == nil && p.Fill == nil && p.Opacity == nil && p.BlendMode == nil &&
		p.Visible == nil && p.LayerLocked == nil
}

// OnlyLayerLocked reports whether the patch touches nothing but the
// layerLocked flag. Such a patch is the one mutation still allowed on a
// layer-locked shape (unlocking it again).
func (p ShapePatch) OnlyLayerLocked() bool {
	if p.LayerLocked == nil {
		return false
	}
	q := p
	q.LayerLocked = nil
	return q.IsEmpty()
}

// Apply sets every non-nil patch field on the shape and returns a patch
// holding the prior values of exactly the same fields.
func (s *Shape) Apply(p ShapePatch) ShapePatch {
	var old ShapePatch
	if p.X != nil {
		v := s.X
		old.X = &v
		s.X = *p.X
	}
	if p.Y != nil {
		v := s.Y
		old.Y = &v
		s.Y = *p.Y
	}
	if p.Rotation != nil {
		v := s.Rotation
		old.Rotation = &v
		s.Rotation = *p.Rotation
	}
	if p.ScaleX != nil {
		v := s.ScaleX
		old.ScaleX = &v
		s.ScaleX = *p.ScaleX
	}
	if p.ScaleY != nil {
		v := s.ScaleY
		old.ScaleY = &v
		s.ScaleY = *p.ScaleY
	}
	if p.Rect != nil {
		if s.Rect != nil {
			v := *s.Rect
			old.Rect = &v
		}
		v := *p.Rect
		s.Rect = &v
	}
	if p.Circle != nil {
		if s.Circle != nil {
			v := *s.Circle
			old.Circle = &v
		}
		v := *p.Circle
		s.Circle = &v
	}
	if p.Text != nil {
		if s.Text != nil {
			v := *s.Text
			old.Text = &v
		}
		v := *p.Text
		s.Text = &v
	}
	if p.Line != nil {
		if s.Line != nil {
			v := *s.Line
			old.Line = &v
		}
		v := *p.Line
		s.Line = &v
	}
	if p.Fill != nil {
		v := s.Fill
		old.Fill = &v
		s.Fill = *p.Fill
	}
	if p.Opacity != nil {
		v := s.Opacity
		old.Opacity = &v
		s.Opacity = *p.Opacity
	}
	if p.BlendMode != nil {
		v := s.BlendMode
		old.BlendMode = &v
		s.BlendMode = *p.BlendMode
	}
	if p.Visible != nil {
		v := s.Visible
		old.Visible = &v
		s.Visible = *p.Visible
	}
	if p.LayerLocked != nil {
		v := s.LayerLocked
		old.LayerLocked = &v
		s.LayerLocked = *p.LayerLocked
	}
	return old
}

type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionDelete ActionType = "delete"
	ActionUpdate ActionType = "update"
	ActionBatch  ActionType = "batch"
)

// Action is one self-describing undo-log entry. Create and delete carry full
// shape snapshots; update carries the old and new property subsets; batch
// carries an ordered list of sub-actions.
type Action struct {
	Type      ActionType `json:"type"`
	CanvasId  string     `json:"canvasId"`
	Timestamp int64      `json:"timestamp"`

	Shapes  []Shape    `json:"shapes,omitempty"`
	ShapeId string     `json:"shapeId,omitempty"`
	Old     ShapePatch `json:"old,omitempty"`
	New     ShapePatch `json:"new,omitempty"`
	Sub     []Action   `json:"sub,omitempty"`
}

func (a Action) IsEmpty() bool {
	switch a.Type {
	case ActionCreate, ActionDelete:
		return len(a.Shapes) == 0
	case ActionUpdate:
		return a.New.IsEmpty()
	case ActionBatch:
		return len(a.Sub) == 0
	}
	return true
}

type Canvas struct {
	Id         string `json:"id"`
	Name       string `json:"name"`
	OwnerId    string `json:"ownerId"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`
	ShareCode  string `json:"shareCode,omitempty"`
	ShapeCount int    `json:"shapeCount"`
	Created    int64  `json:"created"`
	LastActive int64  `json:"lastActive"`
}

type CanvasRole string

const (
	RoleOwner        CanvasRole = "owner"
	RoleCollaborator CanvasRole = "collaborator"
)

type CanvasMember struct {
	CanvasId string     `json:"canvasId"`
	UserId   string     `json:"userId"`
	Role     CanvasRole `json:"role"`
	Added    int64      `json:"added"`
}

// PresenceSession is the ephemeral per-(canvas,user) record. It lives only
// in the ephemeral channel and is never persisted.
type PresenceSession struct {
	UserId      string  `json:"userId"`
	DisplayName string  `json:"displayName"`
	CursorColor string  `json:"cursorColor"`
	CursorX     float64 `json:"cursorX"`
	CursorY     float64 `json:"cursorY"`
	LastSeen    int64   `json:"lastSeen"`
}
