package recipe

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"sort"
	"strings"
	"testing"

	"foodgram/domain"
	"foodgram/entities"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// fakeCatalogRepo backs tag/ingredient resolution with plain maps.
type fakeCatalogRepo struct {
	tags        map[string]*entities.Tag
	ingredients map[string]*entities.Ingredient
}

func (f *fakeCatalogRepo) GetTags(ctx context.Context) ([]*entities.Tag, error) {
	var out []*entities.Tag
	for _, t := range f.tags {
		out = append(out, t)
	}
	return out, nil
}

func (f *fakeCatalogRepo) GetTagByID(ctx context.Context, id string) (*entities.Tag, error) {
	if t, ok := f.tags[id]; ok {
		return t, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCatalogRepo) GetTagsByIDs(ctx context.Context, ids []string) ([]*entities.Tag, error) {
	seen := map[string]struct{}{}
	var out []*entities.Tag
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if t, ok := f.tags[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeCatalogRepo) GetIngredients(ctx context.Context, namePrefix string) ([]*entities.Ingredient, error) {
	var out []*entities.Ingredient
	for _, ing := range f.ingredients {
		if namePrefix == "" || strings.HasPrefix(strings.ToLower(ing.Name), strings.ToLower(namePrefix)) {
			out = append(out, ing)
		}
	}
	return out, nil
}

func (f *fakeCatalogRepo) GetIngredientByID(ctx context.Context, id string) (*entities.Ingredient, error) {
	if ing, ok := f.ingredients[id]; ok {
		return ing, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeCatalogRepo) GetIngredientsByIDs(ctx context.Context, ids []string) ([]*entities.Ingredient, error) {
	seen := map[string]struct{}{}
	var out []*entities.Ingredient
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if ing, ok := f.ingredients[id]; ok {
			out = append(out, ing)
		}
	}
	return out, nil
}

// fakeRecipeRepo keeps the recipe graph in memory, mimicking the cascades and
// uniqueness the real schema enforces.
type fakeRecipeRepo struct {
	catalog   *fakeCatalogRepo
	recipes   map[string]*entities.Recipe
	favorites map[string]map[string]bool
	cart      map[string]map[string]bool
}

func newFakeRecipeRepo(catalog *fakeCatalogRepo) *fakeRecipeRepo {
	return &fakeRecipeRepo{
		catalog:   catalog,
		recipes:   map[string]*entities.Recipe{},
		favorites: map[string]map[string]bool{},
		cart:      map[string]map[string]bool{},
	}
}

func (f *fakeRecipeRepo) attach(recipe *entities.Recipe, lines []entities.RecipeIngredient, tags []entities.Tag) {
	recipe.Tags = tags
	recipe.Ingredients = nil
	for _, line := range lines {
		line.RecipeID = recipe.ID
		line.Ingredient = f.catalog.ingredients[line.IngredientID.String()]
		recipe.Ingredients = append(recipe.Ingredients, line)
	}
	if recipe.Author == nil {
		recipe.Author = &entities.User{ID: recipe.AuthorID, Username: "author"}
	}
}

func (f *fakeRecipeRepo) CreateRecipe(ctx context.Context, recipe *entities.Recipe, lines []entities.RecipeIngredient, tags []entities.Tag) error {
	f.attach(recipe, lines, tags)
	f.recipes[recipe.ID.String()] = recipe
	return nil
}

func (f *fakeRecipeRepo) UpdateRecipe(ctx context.Context, recipe *entities.Recipe, lines []entities.RecipeIngredient, tags []entities.Tag) error {
	existing, ok := f.recipes[recipe.ID.String()]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	existing.Name = recipe.Name
	existing.Text = recipe.Text
	existing.CookingTime = recipe.CookingTime
	existing.ImageURL = recipe.ImageURL
	f.attach(existing, lines, tags)
	return nil
}

func (f *fakeRecipeRepo) GetRecipeByID(ctx context.Context, id string) (*entities.Recipe, error) {
	if r, ok := f.recipes[id]; ok {
		return r, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRecipeRepo) GetRecipes(ctx context.Context, filter domain.RecipeFilter, viewerID string) ([]*entities.Recipe, int64, error) {
	var out []*entities.Recipe
	for _, r := range f.recipes {
		if filter.Author != "" && r.AuthorID.String() != filter.Author {
			continue
		}
		out = append(out, r)
	}
	return out, int64(len(out)), nil
}

func (f *fakeRecipeRepo) GetRecipesByAuthor(ctx context.Context, authorID string, limit int) ([]*entities.Recipe, int64, error) {
	var out []*entities.Recipe
	for _, r := range f.recipes {
		if r.AuthorID.String() == authorID {
			out = append(out, r)
		}
	}
	count := int64(len(out))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, count, nil
}

func (f *fakeRecipeRepo) DeleteRecipe(ctx context.Context, id string) error {
	delete(f.recipes, id)
	for _, recipes := range f.favorites {
		delete(recipes, id)
	}
	for _, recipes := range f.cart {
		delete(recipes, id)
	}
	return nil
}

func (f *fakeRecipeRepo) AddFavorite(ctx context.Context, userID, recipeID uuid.UUID) error {
	set := f.favorites[userID.String()]
	if set == nil {
		set = map[string]bool{}
		f.favorites[userID.String()] = set
	}
	if set[recipeID.String()] {
		return gorm.ErrDuplicatedKey
	}
	set[recipeID.String()] = true
	return nil
}

func (f *fakeRecipeRepo) RemoveFavorite(ctx context.Context, userID, recipeID string) (int64, error) {
	if f.favorites[userID][recipeID] {
		delete(f.favorites[userID], recipeID)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeRecipeRepo) IsFavorited(ctx context.Context, userID, recipeID string) (bool, error) {
	return f.favorites[userID][recipeID], nil
}

func (f *fakeRecipeRepo) AddCartItem(ctx context.Context, userID, recipeID uuid.UUID) error {
	set := f.cart[userID.String()]
	if set == nil {
		set = map[string]bool{}
		f.cart[userID.String()] = set
	}
	if set[recipeID.String()] {
		return gorm.ErrDuplicatedKey
	}
	set[recipeID.String()] = true
	return nil
}

func (f *fakeRecipeRepo) RemoveCartItem(ctx context.Context, userID, recipeID string) (int64, error) {
	if f.cart[userID][recipeID] {
		delete(f.cart[userID], recipeID)
		return 1, nil
	}
	return 0, nil
}

func (f *fakeRecipeRepo) IsInCart(ctx context.Context, userID, recipeID string) (bool, error) {
	return f.cart[userID][recipeID], nil
}

func (f *fakeRecipeRepo) GetShoppingList(ctx context.Context, userID string) ([]domain.ShoppingListItem, error) {
	type key struct{ name, unit string }
	totals := map[key]int{}
	for recipeID := range f.cart[userID] {
		r, ok := f.recipes[recipeID]
		if !ok {
			continue
		}
		for _, line := range r.Ingredients {
			k := key{line.Ingredient.Name, line.Ingredient.MeasurementUnit}
			totals[k] += line.Amount
		}
	}
	items := make([]domain.ShoppingListItem, 0, len(totals))
	for k, total := range totals {
		items = append(items, domain.ShoppingListItem{
			Name:            k.name,
			MeasurementUnit: k.unit,
			TotalAmount:     total,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items, nil
}

type fakeSubscriptions struct{}

func (fakeSubscriptions) IsSubscribed(ctx context.Context, userID, authorID string) (bool, error) {
	return false, nil
}

type fakeS3 struct {
	uploads []string
	deletes []string
}

func (f *fakeS3) UploadBytes(ctx context.Context, fileName string, data []byte, contentType string, dir string) (string, error) {
	key := dir + "/" + fileName
	f.uploads = append(f.uploads, key)
	return key, nil
}

func (f *fakeS3) DeleteFile(ctx context.Context, objectKey string) error {
	f.deletes = append(f.deletes, objectKey)
	return nil
}

func (f *fakeS3) GetPublicLinkKey(objectKey string) string {
	return "https://bucket.test/" + objectKey
}

func (f *fakeS3) KeyFromPublicLink(link string) string {
	return strings.TrimPrefix(link, "https://bucket.test/")
}

type fixture struct {
	service RecipeService
	repo    *fakeRecipeRepo
	catalog *fakeCatalogRepo
	s3      *fakeS3

	breakfast *entities.Tag
	dinner    *entities.Tag
	dessert   *entities.Tag
	flour     *entities.Ingredient
	salt      *entities.Ingredient
	sugar     *entities.Ingredient
}

func newFixture() *fixture {
	f := &fixture{
		breakfast: &entities.Tag{ID: uuid.New(), Name: "Breakfast", Slug: "breakfast", Color: "#008000"},
		dinner:    &entities.Tag{ID: uuid.New(), Name: "Dinner", Slug: "dinner", Color: "#000080"},
		dessert:   &entities.Tag{ID: uuid.New(), Name: "Dessert", Slug: "dessert", Color: "#800000"},
		flour:     &entities.Ingredient{ID: uuid.New(), Name: "flour", MeasurementUnit: "g"},
		salt:      &entities.Ingredient{ID: uuid.New(), Name: "salt", MeasurementUnit: "tsp"},
		sugar:     &entities.Ingredient{ID: uuid.New(), Name: "sugar", MeasurementUnit: "g"},
	}
	f.catalog = &fakeCatalogRepo{
		tags: map[string]*entities.Tag{
			f.breakfast.ID.String(): f.breakfast,
			f.dinner.ID.String():    f.dinner,
			f.dessert.ID.String():   f.dessert,
		},
		ingredients: map[string]*entities.Ingredient{
			f.flour.ID.String(): f.flour,
			f.salt.ID.String():  f.salt,
			f.sugar.ID.String(): f.sugar,
		},
	}
	f.repo = newFakeRecipeRepo(f.catalog)
	f.s3 = &fakeS3{}
	f.service = NewRecipeService(f.repo, f.catalog, fakeSubscriptions{}, f.s3)
	return f
}

func testImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func (f *fixture) validRequest(t *testing.T) domain.RecipeRequest {
	return domain.RecipeRequest{
		Name:        "Pancakes",
		Text:        "Mix and fry.",
		CookingTime: 20,
		Image:       testImage(t),
		Tags:        []string{f.breakfast.ID.String()},
		Ingredients: []domain.IngredientAmountRequest{
			{ID: f.flour.ID.String(), Amount: 200},
			{ID: f.salt.ID.String(), Amount: 1},
		},
	}
}

func TestCreateRecipe(t *testing.T) {
	f := newFixture()
	userID := uuid.New().String()

	res, err := f.service.CreateRecipe(context.Background(), f.validRequest(t), userID)
	require.NoError(t, err)

	assert.Equal(t, "Pancakes", res.Name)
	assert.Equal(t, 20, res.CookingTime)
	assert.Len(t, res.Tags, 1)
	assert.Len(t, res.Ingredients, 2)
	assert.Len(t, f.s3.uploads, 1)

	// reading back reproduces the submitted amounts exactly
	amounts := map[string]int{}
	for _, line := range res.Ingredients {
		amounts[line.Name] = line.Amount
	}
	assert.Equal(t, 200, amounts["flour"])
	assert.Equal(t, 1, amounts["salt"])
}

func TestCreateRecipeValidation(t *testing.T) {
	f := newFixture()
	userID := uuid.New().String()

	cases := []struct {
		name    string
		mutate  func(req *domain.RecipeRequest)
		wantErr error
	}{
		{
			name: "duplicate ingredient",
			mutate: func(req *domain.RecipeRequest) {
				req.Ingredients = append(req.Ingredients, req.Ingredients[0])
			},
			wantErr: domain.ErrDuplicateIngredient,
		},
		{
			name:    "empty tags",
			mutate:  func(req *domain.RecipeRequest) { req.Tags = nil },
			wantErr: domain.ErrNoTags,
		},
		{
			name:    "empty ingredients",
			mutate:  func(req *domain.RecipeRequest) { req.Ingredients = nil },
			wantErr: domain.ErrNoIngredients,
		},
		{
			name: "unknown tag",
			mutate: func(req *domain.RecipeRequest) {
				req.Tags = []string{uuid.New().String()}
			},
			wantErr: domain.ErrTagNotFound,
		},
		{
			name: "unknown ingredient",
			mutate: func(req *domain.RecipeRequest) {
				req.Ingredients = []domain.IngredientAmountRequest{{ID: uuid.New().String(), Amount: 5}}
			},
			wantErr: domain.ErrIngredientNotFound,
		},
		{
			name: "non-positive amount",
			mutate: func(req *domain.RecipeRequest) {
				req.Ingredients[0].Amount = 0
			},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "non-positive cooking time",
			mutate:  func(req *domain.RecipeRequest) { req.CookingTime = 0 },
			wantErr: domain.ErrInvalidCookingTime,
		},
		{
			name:    "invalid image",
			mutate:  func(req *domain.RecipeRequest) { req.Image = "not base64!" },
			wantErr: domain.ErrInvalidImage,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := f.validRequest(t)
			tc.mutate(&req)

			_, err := f.service.CreateRecipe(context.Background(), req, userID)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Empty(t, f.repo.recipes, "no recipe may be persisted on validation failure")
		})
	}
}

func TestUpdateRecipeReplacesAssociations(t *testing.T) {
	f := newFixture()
	userID := uuid.New().String()

	req := f.validRequest(t)
	req.Tags = []string{f.breakfast.ID.String(), f.dinner.ID.String()}
	created, err := f.service.CreateRecipe(context.Background(), req, userID)
	require.NoError(t, err)

	update := f.validRequest(t)
	update.Image = ""
	update.Tags = []string{f.dinner.ID.String(), f.dessert.ID.String()}
	update.Ingredients = []domain.IngredientAmountRequest{{ID: f.sugar.ID.String(), Amount: 50}}

	res, err := f.service.UpdateRecipe(context.Background(), created.ID, update, userID)
	require.NoError(t, err)

	slugs := make([]string, 0, len(res.Tags))
	for _, tag := range res.Tags {
		slugs = append(slugs, tag.Slug)
	}
	sort.Strings(slugs)
	assert.Equal(t, []string{"dessert", "dinner"}, slugs)

	require.Len(t, res.Ingredients, 1)
	assert.Equal(t, "sugar", res.Ingredients[0].Name)
	assert.Equal(t, 50, res.Ingredients[0].Amount)

	// image untouched, no second upload
	assert.Len(t, f.s3.uploads, 1)
	assert.Equal(t, created.Image, res.Image)
}

func TestUpdateRecipeAuthorOnly(t *testing.T) {
	f := newFixture()
	author := uuid.New().String()

	created, err := f.service.CreateRecipe(context.Background(), f.validRequest(t), author)
	require.NoError(t, err)

	update := f.validRequest(t)
	_, err = f.service.UpdateRecipe(context.Background(), created.ID, update, uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotRecipeAuthor)

	err = f.service.DeleteRecipe(context.Background(), created.ID, uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrNotRecipeAuthor)
}

func TestDeleteRecipe(t *testing.T) {
	f := newFixture()
	author := uuid.New().String()
	viewer := uuid.New().String()

	created, err := f.service.CreateRecipe(context.Background(), f.validRequest(t), author)
	require.NoError(t, err)

	_, err = f.service.AddFavorite(context.Background(), created.ID, viewer)
	require.NoError(t, err)
	_, err = f.service.AddToCart(context.Background(), created.ID, viewer)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteRecipe(context.Background(), created.ID, author))

	_, err = f.service.GetRecipeByID(context.Background(), created.ID, "")
	assert.ErrorIs(t, err, domain.ErrRecipeNotFound)

	favorited, _ := f.repo.IsFavorited(context.Background(), viewer, created.ID)
	assert.False(t, favorited)
	inCart, _ := f.repo.IsInCart(context.Background(), viewer, created.ID)
	assert.False(t, inCart)

	// image goes after the row
	require.Len(t, f.s3.deletes, 1)
	assert.Equal(t, f.s3.uploads[0], f.s3.deletes[0])
}

func TestFavoriteToggle(t *testing.T) {
	f := newFixture()
	author := uuid.New().String()
	viewer := uuid.New().String()

	created, err := f.service.CreateRecipe(context.Background(), f.validRequest(t), author)
	require.NoError(t, err)

	short, err := f.service.AddFavorite(context.Background(), created.ID, viewer)
	require.NoError(t, err)
	assert.Equal(t, created.ID, short.ID)

	_, err = f.service.AddFavorite(context.Background(), created.ID, viewer)
	assert.ErrorIs(t, err, domain.ErrAlreadyFavorited)

	require.NoError(t, f.service.RemoveFavorite(context.Background(), created.ID, viewer))
	err = f.service.RemoveFavorite(context.Background(), created.ID, viewer)
	assert.ErrorIs(t, err, domain.ErrNotFavorited)

	_, err = f.service.AddFavorite(context.Background(), uuid.New().String(), viewer)
	assert.ErrorIs(t, err, domain.ErrRecipeNotFound)
}

func TestCartToggle(t *testing.T) {
	f := newFixture()
	author := uuid.New().String()
	viewer := uuid.New().String()

	created, err := f.service.CreateRecipe(context.Background(), f.validRequest(t), author)
	require.NoError(t, err)

	_, err = f.service.AddToCart(context.Background(), created.ID, viewer)
	require.NoError(t, err)
	_, err = f.service.AddToCart(context.Background(), created.ID, viewer)
	assert.ErrorIs(t, err, domain.ErrAlreadyInCart)

	require.NoError(t, f.service.RemoveFromCart(context.Background(), created.ID, viewer))
	err = f.service.RemoveFromCart(context.Background(), created.ID, viewer)
	assert.ErrorIs(t, err, domain.ErrNotInCart)
}

func TestDownloadShoppingCart(t *testing.T) {
	f := newFixture()
	author := uuid.New().String()
	viewer := uuid.New().String()

	r1 := f.validRequest(t)
	r1.Ingredients = []domain.IngredientAmountRequest{{ID: f.flour.ID.String(), Amount: 200}}
	first, err := f.service.CreateRecipe(context.Background(), r1, author)
	require.NoError(t, err)

	r2 := f.validRequest(t)
	r2.Name = "Bread"
	r2.Ingredients = []domain.IngredientAmountRequest{
		{ID: f.flour.ID.String(), Amount: 300},
		{ID: f.salt.ID.String(), Amount: 1},
	}
	second, err := f.service.CreateRecipe(context.Background(), r2, author)
	require.NoError(t, err)

	_, err = f.service.AddToCart(context.Background(), first.ID, viewer)
	require.NoError(t, err)
	_, err = f.service.AddToCart(context.Background(), second.ID, viewer)
	require.NoError(t, err)

	list, err := f.service.DownloadShoppingCart(context.Background(), viewer)
	require.NoError(t, err)
	assert.Equal(t, "- flour (g) - 500\n- salt (tsp) - 1\n", list)
}

func TestDownloadShoppingCartEmpty(t *testing.T) {
	f := newFixture()

	list, err := f.service.DownloadShoppingCart(context.Background(), uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFormatShoppingList(t *testing.T) {
	items := []domain.ShoppingListItem{
		{Name: "flour", MeasurementUnit: "g", TotalAmount: 500},
		{Name: "salt", MeasurementUnit: "tsp", TotalAmount: 0},
	}
	assert.Equal(t, "- flour (g) - 500\n- salt (tsp) - 0\n", FormatShoppingList(items))
	assert.Empty(t, FormatShoppingList(nil))
}

func TestValidateIngredientLines(t *testing.T) {
	id := uuid.New().String()
	assert.ErrorIs(t, ValidateIngredientLines(nil), domain.ErrNoIngredients)
	assert.ErrorIs(t, ValidateIngredientLines([]domain.IngredientAmountRequest{
		{ID: id, Amount: 1},
		{ID: id, Amount: 2},
	}), domain.ErrDuplicateIngredient)
	assert.ErrorIs(t, ValidateIngredientLines([]domain.IngredientAmountRequest{
		{ID: id, Amount: -1},
	}), domain.ErrInvalidAmount)
	assert.NoError(t, ValidateIngredientLines([]domain.IngredientAmountRequest{
		{ID: id, Amount: 1},
		{ID: uuid.New().String(), Amount: 3},
	}))
}
