package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainuser "petadopt/internal/domain/user"
)

// ProfileRepository reads public profile fields from the users collection owned by the
// account service. It never loads credentials.
type ProfileRepository struct {
	col *mongo.Collection
}

func NewProfileRepository(db *mongo.Database) *ProfileRepository {
	return &ProfileRepository{col: db.Collection("users")}
}

func (r *ProfileRepository) Profile(ctx context.Context, id string) (*domainuser.Profile, error) {
	var key any = id
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		key = oid
	}
	opts := options.FindOne().SetProjection(bson.M{"username": 1, "fullname": 1, "avatar": 1})
	var doc profileDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": key}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainuser.ErrNotFound
		}
		return nil, err
	}
	return &domainuser.Profile{ID: id, Username: doc.Username, Fullname: doc.Fullname, Avatar: doc.Avatar}, nil
}

var _ domainuser.Directory = (*ProfileRepository)(nil)

type profileDocument struct {
	Username string `bson:"username"`
	Fullname string `bson:"fullname"`
	Avatar   string `bson:"avatar"`
}
