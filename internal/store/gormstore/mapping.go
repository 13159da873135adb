package gormstore

import (
	"github.com/MarkoPoloResearchLab/coinledger/pkg/ledger"
	"gorm.io/datatypes"
)

func mapAccount(model Account) (ledger.Account, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Account{}, err
	}
	balance, err := ledger.NewCoins(model.CoinBalance)
	if err != nil {
		return ledger.Account{}, err
	}
	earned, err := ledger.NewCoins(model.TotalEarned)
	if err != nil {
		return ledger.Account{}, err
	}
	withdrawn, err := ledger.NewCoins(model.TotalWithdrawn)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.Account{
		UserID:         userID,
		CoinBalance:    balance,
		TotalEarned:    earned,
		TotalWithdrawn: withdrawn,
		UpdatedAt:      model.UpdatedAt.UTC(),
	}, nil
}

func mapLedgerEntries(rows []LedgerEntry) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	userID, err := ledger.NewUserID(row.UserID)
	if err != nil {
		return ledger.Entry{}, err
	}
	direction, err := ledger.ParseDirection(row.Direction)
	if err != nil {
		return ledger.Entry{}, err
	}
	kind, err := ledger.ParseEntryKind(row.Kind)
	if err != nil {
		return ledger.Entry{}, err
	}
	amount, err := ledger.NewCoins(row.Amount)
	if err != nil {
		return ledger.Entry{}, err
	}
	var related *ledger.ContentRef
	if row.RelatedContentType != nil && row.RelatedContentID != nil {
		ref, err := ledger.NewContentRef(*row.RelatedContentType, *row.RelatedContentID)
		if err != nil {
			return ledger.Entry{}, err
		}
		related = &ref
	}
	status, err := ledger.ParseEntryStatus(row.Status)
	if err != nil {
		return ledger.Entry{}, err
	}
	idempotencyKey, err := ledger.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := ledger.NewMetadataJSON(string(row.Metadata))
	if err != nil {
		return ledger.Entry{}, err
	}
	balanceAfter, err := ledger.NewCoins(row.BalanceAfter)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryInput, err := ledger.NewEntryInput(userID, direction, kind, amount, related, status, row.Description, idempotencyKey, metadata, balanceAfter, row.CreatedAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{EntryID: row.EntryID, EntryInput: entryInput}, nil
}

func mapAccessGrant(model AccessGrant) (ledger.AccessGrant, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.AccessGrant{}, err
	}
	content, err := ledger.NewContentRef(model.ContentType, model.ContentID)
	if err != nil {
		return ledger.AccessGrant{}, err
	}
	accessType, err := ledger.ParseAccessType(model.AccessType)
	if err != nil {
		return ledger.AccessGrant{}, err
	}
	spent, err := ledger.NewCoins(model.CoinsSpent)
	if err != nil {
		return ledger.AccessGrant{}, err
	}
	grant := ledger.AccessGrant{
		GrantID: model.GrantID,
		GrantInput: ledger.GrantInput{
			UserID:      userID,
			Content:     content,
			AccessType:  accessType,
			CoinsSpent:  spent,
			PurchasedAt: model.PurchasedAt.UTC(),
		},
	}
	if model.DebitEntryID != nil {
		grant.DebitEntry = *model.DebitEntryID
	}
	return grant, nil
}

func mapWithdrawal(model Withdrawal) (ledger.Withdrawal, error) {
	userID, err := ledger.NewUserID(model.UserID)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	coins, err := ledger.NewPositiveCoins(model.Coins)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	method, err := ledger.ParsePayoutMethod(model.Method)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	details, err := ledger.NewMetadataJSON(string(model.AccountDetails))
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	status, err := ledger.ParseEntryStatus(model.Status)
	if err != nil {
		return ledger.Withdrawal{}, err
	}
	return ledger.Withdrawal{
		WithdrawalID:   model.WithdrawalID,
		UserID:         userID,
		EntryID:        model.EntryID,
		Coins:          coins,
		Method:         method,
		AccountDetails: details,
		Status:         status,
		CreatedAt:      model.CreatedAt.UTC(),
	}, nil
}

func mapContent(model ContentItem) (ledger.Content, error) {
	ref, err := ledger.NewContentRef(model.ContentType, model.ContentID)
	if err != nil {
		return ledger.Content{}, err
	}
	price, err := ledger.NewCoins(model.Price)
	if err != nil {
		return ledger.Content{}, err
	}
	creatorID, err := ledger.NewUserID(model.CreatorID)
	if err != nil {
		return ledger.Content{}, err
	}
	content := ledger.Content{Ref: ref, Title: model.Title, Price: price, CreatorID: creatorID, Active: model.Active}
	if model.SeriesID != nil {
		seriesID, err := ledger.NewContentID(*model.SeriesID)
		if err != nil {
			return ledger.Content{}, err
		}
		content.SeriesID = &seriesID
	}
	return content, nil
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}
