package model

import (
	"github.com/btcsuite/btcutil/base58"
	"github.com/google/uuid"
	"github.com/nrednav/cuid2"
)

func CreateID() string {
	uuid, _ := uuid.NewRandom()
	return base58.Encode(uuid[:])
}

func NewLocalKey() LocalKey {
	return LocalKey(cuid2.Generate())
}
