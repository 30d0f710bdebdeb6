package validators

import "go.mongodb.org/mongo-driver/bson"

var EventValidator = bson.M{
	"$jsonSchema": bson.M{
		"bsonType":             "object",
		"required":             []string{"_id", "total_capacity", "is_cancelled"},
		"additionalProperties": true,
		"properties": bson.M{
			"_id":            bson.M{"bsonType": "string", "maxLength": 128},
			"total_capacity": bson.M{"bsonType": []string{"int", "long"}, "minimum": 0},
			"is_cancelled":   bson.M{"bsonType": "bool"},
			"updated_at":     bson.M{"bsonType": "date"},
		},
	},
}
