package dsc

import "github.com/ethereum/go-ethereum/common"

var (
	positionPrefix = []byte("dsc/position/")
	debtPrefix     = []byte("dsc/debt/")
	memberPrefix   = []byte("dsc/account/")
	accountsKey    = []byte("dsc/accounts")
)

func positionKey(user, token common.Address) []byte {
	key := make([]byte, 0, len(positionPrefix)+2*common.AddressLength)
	key = append(key, positionPrefix...)
	key = append(key, user.Bytes()...)
	return append(key, token.Bytes()...)
}

func debtKey(user common.Address) []byte {
	return append(append([]byte{}, debtPrefix...), user.Bytes()...)
}

func memberKey(user common.Address) []byte {
	return append(append([]byte{}, memberPrefix...), user.Bytes()...)
}
