package recipe

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"foodgram/domain"
	"foodgram/entities"
	"foodgram/internal/utils/images"
	"foodgram/internal/utils/storage"
	"foodgram/pkg/catalog"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type (
	// SubscriptionChecker is the slice of the user repository the recipe read
	// shape needs for the author's is_subscribed flag.
	SubscriptionChecker interface {
		IsSubscribed(ctx context.Context, userID, authorID string) (bool, error)
	}

	RecipeService interface {
		CreateRecipe(ctx context.Context, req domain.RecipeRequest, userID string) (domain.RecipeResponse, error)
		UpdateRecipe(ctx context.Context, recipeID string, req domain.RecipeRequest, userID string) (domain.RecipeResponse, error)
		GetRecipes(ctx context.Context, filter domain.RecipeFilter, viewerID string) ([]domain.RecipeResponse, int64, error)
		GetRecipeByID(ctx context.Context, recipeID string, viewerID string) (domain.RecipeResponse, error)
		DeleteRecipe(ctx context.Context, recipeID string, userID string) error

		AddFavorite(ctx context.Context, recipeID string, userID string) (domain.ShortRecipeResponse, error)
		RemoveFavorite(ctx context.Context, recipeID string, userID string) error
		AddToCart(ctx context.Context, recipeID string, userID string) (domain.ShortRecipeResponse, error)
		RemoveFromCart(ctx context.Context, recipeID string, userID string) error

		DownloadShoppingCart(ctx context.Context, userID string) (string, error)
	}

	recipeService struct {
		recipeRepository  RecipeRepository
		catalogRepository catalog.CatalogRepository
		subscriptions     SubscriptionChecker
		s3                storage.AwsS3
	}
)

func NewRecipeService(recipeRepository RecipeRepository, catalogRepository catalog.CatalogRepository, subscriptions SubscriptionChecker, s3 storage.AwsS3) RecipeService {
	return &recipeService{
		recipeRepository:  recipeRepository,
		catalogRepository: catalogRepository,
		subscriptions:     subscriptions,
		s3:                s3,
	}
}

// ValidateIngredientLines rejects empty line sets, repeated ingredient
// references and non-positive amounts. It runs before anything is written.
func ValidateIngredientLines(lines []domain.IngredientAmountRequest) error {
	if len(lines) == 0 {
		return domain.ErrNoIngredients
	}
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.Amount < 1 {
			return domain.ErrInvalidAmount
		}
		if _, ok := seen[line.ID]; ok {
			return domain.ErrDuplicateIngredient
		}
		seen[line.ID] = struct{}{}
	}
	return nil
}

// resolvePayload validates the write shape against the catalog and returns the
// resolved tag set and ingredient lines ready for persistence.
func (s *recipeService) resolvePayload(ctx context.Context, req domain.RecipeRequest) ([]entities.Tag, []entities.RecipeIngredient, error) {
	if req.CookingTime < 1 {
		return nil, nil, domain.ErrInvalidCookingTime
	}
	if len(req.Tags) == 0 {
		return nil, nil, domain.ErrNoTags
	}
	if err := ValidateIngredientLines(req.Ingredients); err != nil {
		return nil, nil, err
	}

	tags, err := s.catalogRepository.GetTagsByIDs(ctx, req.Tags)
	if err != nil {
		return nil, nil, err
	}
	if len(tags) != len(uniqueStrings(req.Tags)) {
		return nil, nil, domain.ErrTagNotFound
	}

	ingredientIDs := make([]string, 0, len(req.Ingredients))
	for _, line := range req.Ingredients {
		ingredientIDs = append(ingredientIDs, line.ID)
	}
	ingredients, err := s.catalogRepository.GetIngredientsByIDs(ctx, ingredientIDs)
	if err != nil {
		return nil, nil, err
	}
	if len(ingredients) != len(req.Ingredients) {
		return nil, nil, domain.ErrIngredientNotFound
	}

	lines := make([]entities.RecipeIngredient, 0, len(req.Ingredients))
	for _, line := range req.Ingredients {
		ingredientUUID, err := uuid.Parse(line.ID)
		if err != nil {
			return nil, nil, domain.ErrParseUUID
		}
		lines = append(lines, entities.RecipeIngredient{
			ID:           uuid.New(),
			IngredientID: ingredientUUID,
			Amount:       line.Amount,
		})
	}

	tagValues := make([]entities.Tag, 0, len(tags))
	for _, tag := range tags {
		tagValues = append(tagValues, *tag)
	}
	return tagValues, lines, nil
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		result = append(result, v)
	}
	return result
}

// uploadImage normalizes the base64 payload and stores it, returning the
// public URL. The upload happens before the DB transaction: a failed
// transaction leaves at worst an orphan object, never a half-written recipe.
func (s *recipeService) uploadImage(ctx context.Context, recipeID uuid.UUID, payload string) (string, error) {
	raw, err := images.DecodeBase64(payload)
	if err != nil {
		return "", domain.ErrInvalidImage
	}
	data, contentType, err := images.Normalize(raw)
	if err != nil {
		return "", domain.ErrInvalidImage
	}

	fileName := fmt.Sprintf("recipe-%s.jpg", recipeID.String())
	objectKey, err := s.s3.UploadBytes(ctx, fileName, data, contentType, "recipes")
	if err != nil {
		return "", err
	}
	return s.s3.GetPublicLinkKey(objectKey), nil
}

func (s *recipeService) CreateRecipe(ctx context.Context, req domain.RecipeRequest, userID string) (domain.RecipeResponse, error) {
	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return domain.RecipeResponse{}, domain.ErrParseUUID
	}

	tags, lines, err := s.resolvePayload(ctx, req)
	if err != nil {
		return domain.RecipeResponse{}, err
	}

	recipeID := uuid.New()
	imageURL, err := s.uploadImage(ctx, recipeID, req.Image)
	if err != nil {
		return domain.RecipeResponse{}, err
	}

	recipe := &entities.Recipe{
		ID:          recipeID,
		AuthorID:    userUUID,
		Name:        req.Name,
		Text:        req.Text,
		CookingTime: req.CookingTime,
		ImageURL:    imageURL,
	}
	if err := s.recipeRepository.CreateRecipe(ctx, recipe, lines, tags); err != nil {
		return domain.RecipeResponse{}, err
	}

	return s.GetRecipeByID(ctx, recipe.ID.String(), userID)
}

func (s *recipeService) UpdateRecipe(ctx context.Context, recipeID string, req domain.RecipeRequest, userID string) (domain.RecipeResponse, error) {
	existing, err := s.recipeRepository.GetRecipeByID(ctx, recipeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecipeResponse{}, domain.ErrRecipeNotFound
		}
		return domain.RecipeResponse{}, err
	}
	if existing.AuthorID.String() != userID {
		return domain.RecipeResponse{}, domain.ErrNotRecipeAuthor
	}

	tags, lines, err := s.resolvePayload(ctx, req)
	if err != nil {
		return domain.RecipeResponse{}, err
	}

	imageURL := existing.ImageURL
	if req.Image != "" {
		imageURL, err = s.uploadImage(ctx, existing.ID, req.Image)
		if err != nil {
			return domain.RecipeResponse{}, err
		}
	}

	recipe := &entities.Recipe{
		ID:          existing.ID,
		AuthorID:    existing.AuthorID,
		Name:        req.Name,
		Text:        req.Text,
		CookingTime: req.CookingTime,
		ImageURL:    imageURL,
	}
	if err := s.recipeRepository.UpdateRecipe(ctx, recipe, lines, tags); err != nil {
		return domain.RecipeResponse{}, err
	}

	return s.GetRecipeByID(ctx, recipeID, userID)
}

func (s *recipeService) toResponse(ctx context.Context, recipe *entities.Recipe, viewerID string) (domain.RecipeResponse, error) {
	res := domain.RecipeResponse{
		ID:          recipe.ID.String(),
		Name:        recipe.Name,
		Image:       recipe.ImageURL,
		Text:        recipe.Text,
		CookingTime: recipe.CookingTime,
		Tags:        make([]domain.TagResponse, 0, len(recipe.Tags)),
		Ingredients: make([]domain.RecipeIngredientResponse, 0, len(recipe.Ingredients)),
	}

	for i := range recipe.Tags {
		res.Tags = append(res.Tags, catalog.TagResponseFromEntity(&recipe.Tags[i]))
	}
	for _, line := range recipe.Ingredients {
		item := domain.RecipeIngredientResponse{
			ID:     line.IngredientID.String(),
			Amount: line.Amount,
		}
		if line.Ingredient != nil {
			item.Name = line.Ingredient.Name
			item.MeasurementUnit = line.Ingredient.MeasurementUnit
		}
		res.Ingredients = append(res.Ingredients, item)
	}

	if recipe.Author != nil {
		res.Author = domain.UserResponse{
			ID:        recipe.Author.ID.String(),
			Email:     recipe.Author.Email,
			Username:  recipe.Author.Username,
			FirstName: recipe.Author.FirstName,
			LastName:  recipe.Author.LastName,
		}
	}

	if viewerID != "" {
		isFavorited, err := s.recipeRepository.IsFavorited(ctx, viewerID, res.ID)
		if err != nil {
			return domain.RecipeResponse{}, err
		}
		res.IsFavorited = isFavorited

		isInCart, err := s.recipeRepository.IsInCart(ctx, viewerID, res.ID)
		if err != nil {
			return domain.RecipeResponse{}, err
		}
		res.IsInShoppingCart = isInCart

		if recipe.Author != nil && viewerID != recipe.AuthorID.String() {
			isSubscribed, err := s.subscriptions.IsSubscribed(ctx, viewerID, recipe.AuthorID.String())
			if err != nil {
				return domain.RecipeResponse{}, err
			}
			res.Author.IsSubscribed = isSubscribed
		}
	}

	return res, nil
}

func (s *recipeService) GetRecipes(ctx context.Context, filter domain.RecipeFilter, viewerID string) ([]domain.RecipeResponse, int64, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = 20
	}

	recipes, count, err := s.recipeRepository.GetRecipes(ctx, filter, viewerID)
	if err != nil {
		return nil, 0, err
	}

	result := make([]domain.RecipeResponse, 0, len(recipes))
	for _, recipe := range recipes {
		res, err := s.toResponse(ctx, recipe, viewerID)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, res)
	}
	return result, count, nil
}

func (s *recipeService) GetRecipeByID(ctx context.Context, recipeID string, viewerID string) (domain.RecipeResponse, error) {
	recipe, err := s.recipeRepository.GetRecipeByID(ctx, recipeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.RecipeResponse{}, domain.ErrRecipeNotFound
		}
		return domain.RecipeResponse{}, err
	}
	return s.toResponse(ctx, recipe, viewerID)
}

func (s *recipeService) DeleteRecipe(ctx context.Context, recipeID string, userID string) error {
	recipe, err := s.recipeRepository.GetRecipeByID(ctx, recipeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrRecipeNotFound
		}
		return err
	}
	if recipe.AuthorID.String() != userID {
		return domain.ErrNotRecipeAuthor
	}

	if err := s.recipeRepository.DeleteRecipe(ctx, recipeID); err != nil {
		return err
	}

	// Only after the row is gone. S3 delete is idempotent, so a retry after a
	// partial failure is harmless.
	if recipe.ImageURL != "" {
		if err := s.s3.DeleteFile(ctx, s.s3.KeyFromPublicLink(recipe.ImageURL)); err != nil {
			log.Printf("failed to delete recipe image %s: %v", recipe.ImageURL, err)
		}
	}
	return nil
}

func shortResponse(recipe *entities.Recipe) domain.ShortRecipeResponse {
	return domain.ShortRecipeResponse{
		ID:          recipe.ID.String(),
		Name:        recipe.Name,
		Image:       recipe.ImageURL,
		CookingTime: recipe.CookingTime,
	}
}

func (s *recipeService) AddFavorite(ctx context.Context, recipeID string, userID string) (domain.ShortRecipeResponse, error) {
	recipe, err := s.recipeRepository.GetRecipeByID(ctx, recipeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ShortRecipeResponse{}, domain.ErrRecipeNotFound
		}
		return domain.ShortRecipeResponse{}, err
	}

	exists, err := s.recipeRepository.IsFavorited(ctx, userID, recipeID)
	if err != nil {
		return domain.ShortRecipeResponse{}, err
	}
	if exists {
		return domain.ShortRecipeResponse{}, domain.ErrAlreadyFavorited
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return domain.ShortRecipeResponse{}, domain.ErrParseUUID
	}
	if err := s.recipeRepository.AddFavorite(ctx, userUUID, recipe.ID); err != nil {
		// Concurrent adds race past the existence check; the unique index is
		// what actually decides the winner.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ShortRecipeResponse{}, domain.ErrAlreadyFavorited
		}
		return domain.ShortRecipeResponse{}, err
	}
	return shortResponse(recipe), nil
}

func (s *recipeService) RemoveFavorite(ctx context.Context, recipeID string, userID string) error {
	if _, err := s.recipeRepository.GetRecipeByID(ctx, recipeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrRecipeNotFound
		}
		return err
	}

	affected, err := s.recipeRepository.RemoveFavorite(ctx, userID, recipeID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotFavorited
	}
	return nil
}

func (s *recipeService) AddToCart(ctx context.Context, recipeID string, userID string) (domain.ShortRecipeResponse, error) {
	recipe, err := s.recipeRepository.GetRecipeByID(ctx, recipeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ShortRecipeResponse{}, domain.ErrRecipeNotFound
		}
		return domain.ShortRecipeResponse{}, err
	}

	exists, err := s.recipeRepository.IsInCart(ctx, userID, recipeID)
	if err != nil {
		return domain.ShortRecipeResponse{}, err
	}
	if exists {
		return domain.ShortRecipeResponse{}, domain.ErrAlreadyInCart
	}

	userUUID, err := uuid.Parse(userID)
	if err != nil {
		return domain.ShortRecipeResponse{}, domain.ErrParseUUID
	}
	if err := s.recipeRepository.AddCartItem(ctx, userUUID, recipe.ID); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ShortRecipeResponse{}, domain.ErrAlreadyInCart
		}
		return domain.ShortRecipeResponse{}, err
	}
	return shortResponse(recipe), nil
}

func (s *recipeService) RemoveFromCart(ctx context.Context, recipeID string, userID string) error {
	if _, err := s.recipeRepository.GetRecipeByID(ctx, recipeID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrRecipeNotFound
		}
		return err
	}

	affected, err := s.recipeRepository.RemoveCartItem(ctx, userID, recipeID)
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrNotInCart
	}
	return nil
}

// FormatShoppingList renders the aggregated groups as the plain-text
// attachment body, one line per (name, unit) group.
func FormatShoppingList(items []domain.ShoppingListItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s (%s) - %d\n", item.Name, item.MeasurementUnit, item.TotalAmount)
	}
	return b.String()
}

func (s *recipeService) DownloadShoppingCart(ctx context.Context, userID string) (string, error) {
	items, err := s.recipeRepository.GetShoppingList(ctx, userID)
	if err != nil {
		return "", err
	}
	return FormatShoppingList(items), nil
}
