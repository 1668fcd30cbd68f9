package token

import "github.com/ethereum/go-ethereum/common"

var (
	balancePrefix   = []byte("token/balance/")
	allowancePrefix = []byte("token/allowance/")
	supplyPrefix    = []byte("token/supply/")
)

func balanceKey(token, holder common.Address) []byte {
	key := make([]byte, 0, len(balancePrefix)+2*common.AddressLength)
	key = append(key, balancePrefix...)
	key = append(key, token.Bytes()...)
	return append(key, holder.Bytes()...)
}

func allowanceKey(token, owner, spender common.Address) []byte {
	key := make([]byte, 0, len(allowancePrefix)+3*common.AddressLength)
	key = append(key, allowancePrefix...)
	key = append(key, token.Bytes()...)
	key = append(key, owner.Bytes()...)
	return append(key, spender.Bytes()...)
}

func supplyKey(token common.Address) []byte {
	key := make([]byte, 0, len(supplyPrefix)+common.AddressLength)
	key = append(key, supplyPrefix...)
	return append(key, token.Bytes()...)
}
